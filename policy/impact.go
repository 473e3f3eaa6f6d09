package policy

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	sgdiff "github.com/sourcegraph/go-diff/diff"

	"github.com/luxera/rungate/runtime/run"
)

// Step parameter keys inspected by the impact gate and the reviewer preview.
const (
	ParamDiff   = "diff"
	ParamBefore = "before"
	ParamAfter  = "after"
	ParamPath   = "path"
)

const diffContext = 3

// ChangedFileCount returns the number of distinct files touched by unified
// diff parameters carried on proposal steps. An unparseable diff counts as
// one file so that a mangled patch never slips past the gate.
func ChangedFileCount(proposal *run.Proposal) int {
	if proposal == nil {
		return 0
	}
	seen := map[string]bool{}
	count := 0
	for _, step := range proposal.Steps {
		patch, ok := step.Parameters[ParamDiff].(string)
		if !ok || patch == "" {
			continue
		}
		files, err := sgdiff.ParseMultiFileDiff([]byte(patch))
		if err != nil || len(files) == 0 {
			count++
			continue
		}
		for _, file := range files {
			name := file.NewName
			if name == "" || name == "/dev/null" {
				name = file.OrigName
			}
			if !seen[name] {
				seen[name] = true
				count++
			}
		}
	}
	return count
}

// StepPreview synthesizes a reviewer-facing unified diff for a proposal
// step: the step's diff parameter verbatim when present, otherwise a diff
// generated from its before/after parameters. It returns "" when the step
// carries no textual change.
func StepPreview(step run.ProposalStep) (string, error) {
	if step.Parameters == nil {
		return "", nil
	}
	if patch, ok := step.Parameters[ParamDiff].(string); ok && patch != "" {
		return patch, nil
	}
	before, _ := step.Parameters[ParamBefore].(string)
	after, _ := step.Parameters[ParamAfter].(string)
	if before == "" && after == "" {
		return "", nil
	}
	path, _ := step.Parameters[ParamPath].(string)
	if path == "" {
		path = step.Operation
	}
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  diffContext,
	}
	preview, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("preview generation: %w", err)
	}
	return strings.TrimSuffix(preview, "\n"), nil
}
