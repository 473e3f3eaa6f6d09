package model

import "fmt"

// Step kinds recognized by the plan model. Step semantics belong to the
// execution backend; the model only checks the discriminator.
const (
	StepKindLLM  = "llm"
	StepKindTool = "tool"
)

// Source provides information about the origin of the plan.
type Source struct {
	URL string `json:"url,omitempty" yaml:"url,omitempty"`
}

// ToolDescriptor names a tool the agent may invoke.
type ToolDescriptor struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Step is one ordered unit of a plan.
type Step struct {
	ID         string     `json:"id" yaml:"id"`
	Kind       string     `json:"kind" yaml:"kind"`
	Parameters Parameters `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// Plan is an immutable description of an agent: goal, ordered steps and the
// tools it may use. Once a run starts against a plan the plan never changes;
// accessors return copies so that no caller can mutate shared state.
type Plan struct {
	Source *Source           `json:"source,omitempty" yaml:"source,omitempty"`
	ID     string            `json:"id" yaml:"id"`
	Goal   string            `json:"goal" yaml:"goal"`
	Steps  []*Step           `json:"steps,omitempty" yaml:"steps,omitempty"`
	Tools  []*ToolDescriptor `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// OrderedSteps returns a copy of the ordered step sequence.
func (p *Plan) OrderedSteps() []*Step {
	if p == nil {
		return nil
	}
	out := make([]*Step, len(p.Steps))
	for i, step := range p.Steps {
		clone := *step
		clone.Parameters = append(Parameters(nil), step.Parameters...)
		out[i] = &clone
	}
	return out
}

// ToolSet returns a copy of the tool descriptors.
func (p *Plan) ToolSet() []*ToolDescriptor {
	if p == nil {
		return nil
	}
	out := make([]*ToolDescriptor, len(p.Tools))
	for i, tool := range p.Tools {
		clone := *tool
		out[i] = &clone
	}
	return out
}

// Validate performs a best-effort structural validation of the plan. The
// returned slice is empty when the plan is sound; otherwise it contains
// human-readable error descriptions. No step semantics are evaluated.
func (p *Plan) Validate() []error {
	var issues []error
	if p.ID == "" {
		issues = append(issues, fmt.Errorf("plan id is empty"))
	}
	seen := map[string]bool{}
	for i, step := range p.Steps {
		if step == nil {
			issues = append(issues, fmt.Errorf("step %d is nil", i))
			continue
		}
		if step.ID == "" {
			issues = append(issues, fmt.Errorf("step %d has empty id", i))
		} else if seen[step.ID] {
			issues = append(issues, fmt.Errorf("duplicate step id %s", step.ID))
		}
		seen[step.ID] = true
		switch step.Kind {
		case StepKindLLM, StepKindTool:
		default:
			issues = append(issues, fmt.Errorf("step %s has unknown kind %q", step.ID, step.Kind))
		}
	}
	toolSeen := map[string]bool{}
	for _, tool := range p.Tools {
		if tool == nil || tool.Name == "" {
			issues = append(issues, fmt.Errorf("tool with empty name"))
			continue
		}
		if toolSeen[tool.Name] {
			issues = append(issues, fmt.Errorf("duplicate tool %s", tool.Name))
		}
		toolSeen[tool.Name] = true
	}
	return issues
}
