package pipeline

import (
	"maps"
	"strings"

	"github.com/shopspring/decimal"
)

// Recompute returns a copy of cfg whose TotalBudget is the sum of its part
// prices rounded to cents. It is idempotent.
func Recompute(cfg BuildConfiguration) BuildConfiguration {
	out := cfg.Clone()
	total := decimal.Zero
	for _, p := range out.Parts {
		total = total.Add(p.Price)
	}
	out.TotalBudget = total.Round(2)
	return out
}

// Apply returns a new configuration with changes applied in order. base is
// never modified. A later change to the same category overrides an earlier
// one. Changes naming a category base does not contain are dropped and
// returned as errors. An empty change list returns a copy of base.
func Apply(base BuildConfiguration, changes []Change) (BuildConfiguration, []*InvalidReferenceError) {
	if len(changes) == 0 {
		return base.Clone(), nil
	}

	valid, dropped := partitionChanges(base, changes)
	out := base.Clone()
	for _, ch := range valid {
		i := partIndex(out, ch.Category, ch.OriginalPart)
		p := out.Parts[i]
		p.Name = ch.RevisedPart
		if ch.RevisedPrice != nil {
			p.Price = *ch.RevisedPrice
		}
		p.Specs = maps.Clone(ch.Specs)
		if ch.Reason != "" {
			p.Rationale = ch.Reason
		}
		out.Parts[i] = p
	}
	return Recompute(out), dropped
}

// Delta is final's total minus base's total. It may be negative.
func Delta(final, base BuildConfiguration) decimal.Decimal {
	return final.TotalBudget.Sub(base.TotalBudget)
}

// partitionChanges splits changes into those base can absorb and those
// referencing a category base lacks.
func partitionChanges(base BuildConfiguration, changes []Change) ([]Change, []*InvalidReferenceError) {
	var valid []Change
	var dropped []*InvalidReferenceError
	for _, ch := range changes {
		if ch.Category.Valid() && base.HasCategory(ch.Category) {
			valid = append(valid, ch)
			continue
		}
		ref := ch.RevisedPart
		if ch.OriginalPart != "" {
			ref = ch.OriginalPart
		}
		dropped = append(dropped, &InvalidReferenceError{
			Stage:    StageImprove,
			Category: string(ch.Category),
			Ref:      ref,
		})
	}
	return valid, dropped
}

// partIndex finds the part a change replaces: the part of cat named name,
// else the first part of cat. cat must be present in cfg.
func partIndex(cfg BuildConfiguration, cat Category, name string) int {
	first := -1
	for i, p := range cfg.Parts {
		if p.Category != cat {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(p.Name), strings.TrimSpace(name)) {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

// categoryOfPart returns the category of the part in cfg named name.
func categoryOfPart(cfg BuildConfiguration, name string) (Category, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	for _, p := range cfg.Parts {
		if strings.EqualFold(strings.TrimSpace(p.Name), name) {
			return p.Category, true
		}
	}
	return "", false
}
