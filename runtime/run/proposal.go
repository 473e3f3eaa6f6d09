package run

import "time"

// Determinism captures the reproducibility fingerprint of a proposal.
type Determinism struct {
	Seed         int64  `json:"seed"`
	PromptHash   string `json:"prompt_hash"`
	ModelVersion string `json:"model_version"`
}

// ProposalStep is a single operation the backend intends to perform.
type ProposalStep struct {
	Operation  string                 `json:"operation"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	Confidence float64                `json:"confidence"`
}

// Proposal describes a next irreversible action the backend wants to take.
// It is emitted mid-run by the execution backend and treated as an immutable
// snapshot: the orchestrator decides on it, never mutates it.
type Proposal struct {
	Agent            string         `json:"agent"`
	Intent           string         `json:"intent"`
	Steps            []ProposalStep `json:"steps,omitempty"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
	Outputs          []string       `json:"outputs,omitempty"`
	Determinism      Determinism    `json:"determinism"`
	RiskFlags        []string       `json:"risk_flags,omitempty"`
	RequestID        string         `json:"request_id"`
	Timestamp        time.Time      `json:"timestamp"`
}

// Clone returns a deep copy so that callers can hold a proposal across
// orchestrator transitions without aliasing loop-owned state.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	ret := *p
	if p.Steps != nil {
		ret.Steps = make([]ProposalStep, len(p.Steps))
		for i, step := range p.Steps {
			ret.Steps[i] = step
			if step.Parameters != nil {
				params := make(map[string]interface{}, len(step.Parameters))
				for k, v := range step.Parameters {
					params[k] = v
				}
				ret.Steps[i].Parameters = params
			}
		}
	}
	ret.Outputs = append([]string(nil), p.Outputs...)
	ret.RiskFlags = append([]string(nil), p.RiskFlags...)
	return &ret
}
