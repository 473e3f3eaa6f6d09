// Package policy provides the pure predicate that decides whether a backend
// proposal needs human review before execution continues. Evaluation is
// deterministic, performs no I/O and never mutates the proposal – the
// orchestrator consults it synchronously on every proposal event.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/luxera/rungate/runtime/run"
)

// AutoApproveReason is recorded on decisions the policy made on its own so
// that the audit trail stays uniform regardless of who decided.
const AutoApproveReason = "Auto-approved by policy"

// Review reasons accumulated by Evaluate.
const (
	ReasonRiskFlags      = "risk_flags_present"
	ReasonCostCeiling    = "estimated_cost_above_ceiling"
	ReasonModelVersion   = "model_version_not_allowed"
	ReasonHighImpact     = "changed_files_above_limit"
	ReasonLowConfidence  = "confidence_below_threshold"
	ReasonMissingRequest = "missing_request_id"
)

// Policy holds the configured review thresholds. A nil *Policy requires no
// approvals and is therefore the zero-cost default.
type Policy struct {
	// CostCeilingUSD gates proposals whose estimated cost exceeds it.
	// Zero disables the gate.
	CostCeilingUSD float64
	// AllowedModels lists model versions that may run unattended. Empty
	// permits all versions.
	AllowedModels []string
	// MaxChangedFiles gates proposals whose diff parameters touch more
	// files than allowed. Zero disables the gate.
	MaxChangedFiles int
	// ConfidenceFloor gates proposal steps below the threshold. Zero
	// disables the gate.
	ConfidenceFloor float64
}

// Config is the serialisable form of a Policy.
type Config struct {
	CostCeilingUSD  float64  `json:"costCeilingUSD,omitempty" yaml:"costCeilingUSD,omitempty" toml:"cost_ceiling_usd"`
	AllowedModels   []string `json:"allowedModels,omitempty" yaml:"allowedModels,omitempty" toml:"allowed_models"`
	MaxChangedFiles int      `json:"maxChangedFiles,omitempty" yaml:"maxChangedFiles,omitempty" toml:"max_changed_files"`
	ConfidenceFloor float64  `json:"confidenceFloor,omitempty" yaml:"confidenceFloor,omitempty" toml:"confidence_floor"`
}

// FromConfig converts a stored Config into a runtime Policy.
func FromConfig(c *Config) *Policy {
	if c == nil {
		return nil
	}
	return &Policy{
		CostCeilingUSD:  c.CostCeilingUSD,
		AllowedModels:   append([]string(nil), c.AllowedModels...),
		MaxChangedFiles: c.MaxChangedFiles,
		ConfidenceFloor: c.ConfidenceFloor,
	}
}

// ToConfig converts a runtime Policy into a persistable Config.
func ToConfig(p *Policy) *Config {
	if p == nil {
		return nil
	}
	return &Config{
		CostCeilingUSD:  p.CostCeilingUSD,
		AllowedModels:   append([]string(nil), p.AllowedModels...),
		MaxChangedFiles: p.MaxChangedFiles,
		ConfidenceFloor: p.ConfidenceFloor,
	}
}

// Verdict carries the review requirement plus the accumulated reasons that
// produced it. Reasons are informative for reviewers and for the audit log.
type Verdict struct {
	Required bool
	Reasons  []string
}

// Reason renders the verdict as a single decision reason string.
func (v Verdict) Reason() string {
	if !v.Required {
		return AutoApproveReason
	}
	return "Review required: " + strings.Join(v.Reasons, ", ")
}

// RequiresApproval reports whether the proposal needs a human decision. It
// delegates to Evaluate and is therefore deterministic for the same input.
func (p *Policy) RequiresApproval(proposal *run.Proposal) bool {
	return p.Evaluate(proposal).Required
}

// Evaluate inspects a proposal against the configured gates and returns the
// verdict with all triggered reasons.
func (p *Policy) Evaluate(proposal *run.Proposal) Verdict {
	if p == nil || proposal == nil {
		return Verdict{}
	}
	var verdict Verdict
	if proposal.RequestID == "" {
		verdict.Reasons = append(verdict.Reasons, ReasonMissingRequest)
	}
	if len(proposal.RiskFlags) > 0 {
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("%s (%s)", ReasonRiskFlags, strings.Join(proposal.RiskFlags, ",")))
	}
	if p.CostCeilingUSD > 0 && proposal.EstimatedCostUSD > p.CostCeilingUSD {
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("%s (%.2f > %.2f)", ReasonCostCeiling, proposal.EstimatedCostUSD, p.CostCeilingUSD))
	}
	if !p.modelAllowed(proposal.Determinism.ModelVersion) {
		verdict.Reasons = append(verdict.Reasons,
			fmt.Sprintf("%s (%s)", ReasonModelVersion, proposal.Determinism.ModelVersion))
	}
	if p.MaxChangedFiles > 0 {
		if changed := ChangedFileCount(proposal); changed > p.MaxChangedFiles {
			verdict.Reasons = append(verdict.Reasons,
				fmt.Sprintf("%s (%d > %d)", ReasonHighImpact, changed, p.MaxChangedFiles))
		}
	}
	if p.ConfidenceFloor > 0 {
		for _, step := range proposal.Steps {
			if step.Confidence < p.ConfidenceFloor {
				verdict.Reasons = append(verdict.Reasons,
					fmt.Sprintf("%s (%s %.2f < %.2f)", ReasonLowConfidence, step.Operation, step.Confidence, p.ConfidenceFloor))
				break
			}
		}
	}
	verdict.Required = len(verdict.Reasons) > 0
	return verdict
}

func (p *Policy) modelAllowed(version string) bool {
	if len(p.AllowedModels) == 0 {
		return true
	}
	normalized := strings.ToLower(version)
	for _, allowed := range p.AllowedModels {
		if normalized == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKeyT struct{}

var ctxKey ctxKeyT

// WithPolicy embeds the policy in ctx.
func WithPolicy(ctx context.Context, p *Policy) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxKey, p)
}

// FromContext extracts the policy from ctx or nil.
func FromContext(ctx context.Context) *Policy {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxKey).(*Policy); ok {
		return v
	}
	return nil
}
