package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var defaultContracts = DefaultContracts()

// Extract parses raw model text for stage using the built-in contracts.
// ref is the Build configuration later stages are checked against; it may be
// nil for the Build stage.
func Extract(stage Stage, raw string, ref *BuildConfiguration) (StageResult, error) {
	c, ok := defaultContracts[stage]
	if !ok {
		return StageResult{}, fmt.Errorf("no contract for stage %q", stage)
	}
	return c.Extract(raw, ref)
}

// Extract converts raw model text into a complete StageResult or returns a
// *MalformedOutputError. A result is never returned with any mandatory field
// missing or invalid.
func (c Contract) Extract(raw string, ref *BuildConfiguration) (StageResult, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return StageResult{}, newMalformed(c.Stage, raw, "%v", err)
	}
	obj = c.normalize(obj)
	for _, path := range c.Mandatory {
		if _, ok := lookup(obj, path); !ok {
			return StageResult{}, newMalformed(c.Stage, raw, "missing mandatory field %s", path)
		}
	}

	var res StageResult
	switch c.Stage {
	case StageBuild:
		res, err = extractBuild(obj)
	case StageCritique:
		res, err = extractCritique(obj, ref)
	case StageImprove:
		res, err = extractImprove(obj, ref)
	default:
		return StageResult{}, fmt.Errorf("stage %s has no structured output", c.Stage)
	}
	if err != nil {
		return StageResult{}, newMalformed(c.Stage, raw, "%v", err)
	}
	res.Stage = c.Stage
	res.Status = StatusComplete
	return res, nil
}

// normalize nests a bare payload under the contract's wrapper key so that
// {"parts": [...]} and {"build": {"parts": [...]}} validate the same way.
func (c Contract) normalize(obj map[string]any) map[string]any {
	if c.Wrapper == "" {
		return obj
	}
	if _, ok := obj[c.Wrapper].(map[string]any); ok {
		return obj
	}
	out := map[string]any{c.Wrapper: obj}
	if r, ok := obj["reasoning"]; ok {
		out["reasoning"] = r
	}
	return out
}

func lookup(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

func extractBuild(obj map[string]any) (StageResult, error) {
	b, _ := obj["build"].(map[string]any)

	rawParts, ok := b["parts"].([]any)
	if !ok || len(rawParts) == 0 {
		return StageResult{}, errors.New("build.parts must be a non-empty array")
	}
	parts := make([]Part, 0, len(rawParts))
	for i, rp := range rawParts {
		p, err := parsePart(rp)
		if err != nil {
			return StageResult{}, fmt.Errorf("build.parts[%d]: %w", i, err)
		}
		parts = append(parts, p)
	}

	target, err := coerceDecimal(b["total_budget"])
	if err != nil {
		return StageResult{}, fmt.Errorf("build.total_budget: %w", err)
	}
	if !target.IsPositive() {
		return StageResult{}, errors.New("build.total_budget must be greater than zero")
	}

	cfg := Recompute(BuildConfiguration{Parts: parts, TargetBudget: target})
	result := &BuildResult{Config: cfg}
	var warnings []string

	if reasoning, ok := obj["reasoning"].(map[string]any); ok {
		result.BudgetAnalysis = str(reasoning["budget_analysis"])
		if decisions, ok := reasoning["tool_decisions"].([]any); ok {
			for i, d := range decisions {
				m, ok := d.(map[string]any)
				if !ok || str(m["tool"]) == "" {
					warnings = append(warnings, fmt.Sprintf("ignored tool_decisions[%d]: missing tool", i))
					continue
				}
				result.ToolDecisions = append(result.ToolDecisions, ToolDecision{
					Tool:  str(m["tool"]),
					Query: str(m["query"]),
					Why:   str(m["why"]),
				})
			}
		}
	}

	if cfg.TotalBudget.GreaterThan(target) {
		warnings = append(warnings, fmt.Sprintf("parts total $%s exceeds stated budget $%s", cfg.TotalBudget.StringFixed(2), target.StringFixed(2)))
	}
	return StageResult{Build: result, Warnings: warnings}, nil
}

func extractCritique(obj map[string]any, ref *BuildConfiguration) (StageResult, error) {
	c, _ := obj["critique"].(map[string]any)

	assessment := strings.TrimSpace(str(c["overall_assessment"]))
	if assessment == "" {
		return StageResult{}, errors.New("critique.overall_assessment must be a non-empty string")
	}
	rawConcerns, ok := c["concerns"].([]any)
	if !ok {
		return StageResult{}, errors.New("critique.concerns must be an array")
	}

	result := &CritiqueResult{
		OverallAssessment: assessment,
		Severity:          str(c["severity"]),
		Concerns:          make([]Concern, 0, len(rawConcerns)),
	}
	var warnings []string
	for i, rc := range rawConcerns {
		m, ok := rc.(map[string]any)
		if !ok {
			return StageResult{}, fmt.Errorf("critique.concerns[%d] must be an object", i)
		}
		concern := Concern{
			Category: str(m["category"]),
			Issue:    strings.TrimSpace(str(m["issue"])),
			Evidence: str(m["evidence"]),
			Impact:   str(m["impact"]),
			Severity: str(m["severity"]),
		}
		if concern.Issue == "" {
			return StageResult{}, fmt.Errorf("critique.concerns[%d].issue must be a non-empty string", i)
		}
		// Free-form categories such as "Bottleneck" are kept; a part category
		// the build does not have is an invalid reference.
		if cat, err := ParseCategory(concern.Category); err == nil && ref != nil && !ref.HasCategory(cat) {
			ire := &InvalidReferenceError{Stage: StageCritique, Category: string(cat), Ref: concern.Issue}
			warnings = append(warnings, "dropped concern: "+ire.Error())
			continue
		}
		result.Concerns = append(result.Concerns, concern)
	}
	return StageResult{Critique: result, Warnings: warnings}, nil
}

func extractImprove(obj map[string]any, ref *BuildConfiguration) (StageResult, error) {
	r, _ := obj["revisions"].(map[string]any)

	rawChanges, ok := r["changes_made"].([]any)
	if !ok {
		return StageResult{}, errors.New("revisions.changes_made must be an array")
	}
	revised, _ := r["revised_build"].(map[string]any)
	rawParts, ok := revised["parts"].([]any)
	if !ok {
		return StageResult{}, errors.New("revisions.revised_build.parts must be an array")
	}

	var warnings []string
	proposed := BuildConfiguration{}
	if ref != nil {
		proposed.TargetBudget = ref.TargetBudget
	}
	for i, rp := range rawParts {
		p, err := parsePart(rp)
		var ce *categoryError
		if errors.As(err, &ce) {
			warnings = append(warnings, fmt.Sprintf("ignored revised_build.parts[%d]: %v", i, err))
			continue
		}
		if err != nil {
			return StageResult{}, fmt.Errorf("revisions.revised_build.parts[%d]: %w", i, err)
		}
		proposed.Parts = append(proposed.Parts, p)
	}
	proposed = Recompute(proposed)

	changes := make([]Change, 0, len(rawChanges))
	for i, rc := range rawChanges {
		m, ok := rc.(map[string]any)
		if !ok {
			return StageResult{}, fmt.Errorf("revisions.changes_made[%d] must be an object", i)
		}
		ch := Change{
			OriginalPart: strings.TrimSpace(str(m["original_part"])),
			RevisedPart:  strings.TrimSpace(str(m["revised_part"])),
			Reason:       str(m["reason"]),
			Tradeoff:     str(m["tradeoff"]),
			Confidence:   str(m["confidence"]),
		}
		if ch.RevisedPart == "" {
			return StageResult{}, fmt.Errorf("revisions.changes_made[%d].revised_part must be a non-empty string", i)
		}
		ch.Category = resolveChangeCategory(str(m["category"]), ch, ref, proposed)

		for _, key := range []string{"revised_price", "new_price", "price"} {
			v, present := m[key]
			if !present || v == nil {
				continue
			}
			d, err := coerceDecimal(v)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("changes_made[%d].%s ignored: %v", i, key, err))
				break
			}
			ch.RevisedPrice = &d
			break
		}
		if p, ok := proposedPart(proposed, ch.Category, ch.RevisedPart); ok {
			if ch.RevisedPrice == nil {
				price := p.Price
				ch.RevisedPrice = &price
			}
			ch.Specs = p.Specs
		}
		if ch.RevisedPrice == nil && ch.Category.Valid() {
			warnings = append(warnings, fmt.Sprintf("no price for revised part %q; original price kept", ch.RevisedPart))
		}
		changes = append(changes, ch)
	}

	return StageResult{
		Improve: &ImproveResult{
			Changes:       changes,
			RevisedConfig: proposed,
			Summary:       str(r["improvements_summary"]),
		},
		Warnings: warnings,
	}, nil
}

// resolveChangeCategory uses the explicit category when the model gave one,
// else the category of the original part in the build, else the category of
// the revised part in the proposed build. Unrecognized names are kept verbatim
// so the reconciler can report them.
func resolveChangeCategory(explicit string, ch Change, ref *BuildConfiguration, proposed BuildConfiguration) Category {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if cat, err := ParseCategory(explicit); err == nil {
			return cat
		}
		return Category(explicit)
	}
	if ref != nil {
		if cat, ok := categoryOfPart(*ref, ch.OriginalPart); ok {
			return cat
		}
	}
	if cat, ok := categoryOfPart(proposed, ch.RevisedPart); ok {
		return cat
	}
	return ""
}

// proposedPart finds the revised part in the model's proposed build: by name
// within cat, else the first part of cat.
func proposedPart(proposed BuildConfiguration, cat Category, name string) (Part, bool) {
	if !cat.Valid() || !proposed.HasCategory(cat) {
		return Part{}, false
	}
	return proposed.Parts[partIndex(proposed, cat, name)], true
}

type categoryError struct{ err error }

func (e *categoryError) Error() string { return e.err.Error() }
func (e *categoryError) Unwrap() error { return e.err }

func parsePart(v any) (Part, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Part{}, errors.New("part must be an object")
	}
	cat, err := ParseCategory(str(m["category"]))
	if err != nil {
		return Part{}, &categoryError{err: err}
	}
	name := strings.TrimSpace(str(m["name"]))
	if name == "" {
		return Part{}, errors.New("part name must be a non-empty string")
	}
	price, err := coerceDecimal(m["price"])
	if err != nil {
		return Part{}, fmt.Errorf("price of %q: %w", name, err)
	}
	p := Part{Category: cat, Name: name, Price: price, Rationale: str(m["rationale"])}
	if specs, ok := m["specs"].(map[string]any); ok && len(specs) > 0 {
		p.Specs = make(map[string]string, len(specs))
		for k, v := range specs {
			p.Specs[k] = fmt.Sprint(v)
		}
	}
	return p, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

var (
	plainAmount    = regexp.MustCompile(`^\d+(\.\d+)?$`)
	currencyTokens = []string{"US$", "USD", "EUR", "GBP", "DOLLARS", "DOLLAR", "$", "€", "£"}
)

// coerceDecimal accepts a JSON number or a string such as "$299", "1,299.99"
// or "USD 120" and returns a non-negative decimal.
func coerceDecimal(v any) (decimal.Decimal, error) {
	var d decimal.Decimal
	switch t := v.(type) {
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid number %q", t.String())
		}
		d = parsed
	case float64:
		d = decimal.NewFromFloat(t)
	case string:
		s := strings.ToUpper(strings.TrimSpace(t))
		for trimmed := true; trimmed; {
			trimmed = false
			for _, tok := range currencyTokens {
				if strings.HasPrefix(s, tok) {
					s, trimmed = strings.TrimSpace(strings.TrimPrefix(s, tok)), true
				}
				if strings.HasSuffix(s, tok) {
					s, trimmed = strings.TrimSpace(strings.TrimSuffix(s, tok)), true
				}
			}
		}
		s = strings.NewReplacer(",", "", "_", "", " ", "").Replace(s)
		if !plainAmount.MatchString(s) {
			return decimal.Zero, fmt.Errorf("%q is not a valid non-negative amount", t)
		}
		d = decimal.RequireFromString(s)
	case nil:
		return decimal.Zero, errors.New("amount is missing")
	default:
		return decimal.Zero, fmt.Errorf("amount has unsupported type %T", v)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s is negative", d)
	}
	return d, nil
}

// decodeObject decodes raw as a JSON object directly, else decodes the first
// balanced {...} span that parses, cleaning trailing commas and // comments.
func decodeObject(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, errors.New("empty response")
	}
	if obj, err := decodeJSON(text); err == nil {
		return obj, nil
	}

	for start := strings.IndexByte(text, '{'); start >= 0; {
		next := start + 1
		if end := balancedEnd(text, start); end > 0 {
			span := text[start : end+1]
			if obj, err := decodeJSON(span); err == nil {
				return obj, nil
			}
			if obj, err := decodeJSON(cleanJSON(span)); err == nil {
				return obj, nil
			}
			next = end + 1
		}
		i := strings.IndexByte(text[next:], '{')
		if i < 0 {
			break
		}
		start = next + i
	}
	return nil, errors.New("no decodable JSON object found")
}

func decodeJSON(s string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}

// balancedEnd returns the index of the brace closing the one at start,
// ignoring braces inside strings, or -1.
func balancedEnd(s string, start int) int {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// cleanJSON drops // line comments and trailing commas outside strings.
func cleanJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			b.WriteByte(ch)
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch {
		case ch == '"':
			inString = true
			b.WriteByte(ch)
		case ch == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			if i < len(s) {
				b.WriteByte('\n')
			}
		case ch == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
