package pipeline

import "fmt"

// Policy decides how a stage reacts to failure.
type Policy struct {
	// TransportRetries is how many times a failed or timed-out call is
	// repeated with identical parameters.
	TransportRetries int
	// RepairAttempts is how many times malformed output is re-prompted with
	// the validation failure appended.
	RepairAttempts int
	// Fatal stops the pipeline when the stage fails. Non-fatal stages degrade.
	// Build must be fatal since every later stage works from its configuration.
	Fatal bool
	// MockOnMalformed substitutes mock output for malformed output once
	// repairs are exhausted. Only honored in mock mode.
	MockOnMalformed bool
}

// Policies maps each stage to its failure policy.
type Policies map[Stage]Policy

// DefaultPolicies returns the standard table: Build retries transport
// failures once, gets one repair prompt, and is fatal; later stages degrade
// immediately to bound total latency.
func DefaultPolicies() Policies {
	return Policies{
		StageBuild:     {TransportRetries: 1, RepairAttempts: 1, Fatal: true, MockOnMalformed: true},
		StageCritique:  {},
		StageImprove:   {},
		StageVisualize: {},
	}
}

// Validate checks the table covers every stage with sane values.
func (p Policies) Validate() error {
	for _, stage := range AllStages() {
		pol, ok := p[stage]
		if !ok {
			return fmt.Errorf("missing policy for stage %s", stage)
		}
		if pol.TransportRetries < 0 || pol.RepairAttempts < 0 {
			return fmt.Errorf("policy for stage %s: negative retry count", stage)
		}
	}
	if !p[StageBuild].Fatal {
		return fmt.Errorf("policy for stage %s must be fatal", StageBuild)
	}
	return nil
}
