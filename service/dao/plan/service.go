// Package plan loads workflow plan definitions from YAML documents and keeps
// a registry of loaded plans for agent selection.
package plan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/luxera/rungate/internal/expr"
	"github.com/luxera/rungate/model"
	"github.com/luxera/rungate/service/dao/plan/parameters"
	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service loads plans from YAML at afs URLs.
type Service struct {
	fs      afs.Service
	baseURL string
}

// DecodeYAML decodes a plan from YAML.
func (s *Service) DecodeYAML(encoded []byte) (*model.Plan, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(expr.Expand(string(encoded))), &node); err != nil {
		return nil, err
	}
	return s.ParsePlan("", &node)
}

// Load loads a plan from YAML at the specified URL. Relative URLs resolve
// against the service base URL; a missing extension defaults to .yaml.
func (s *Service) Load(ctx context.Context, URL string) (*model.Plan, error) {
	if ext := filepath.Ext(URL); ext == "" {
		URL += ".yaml"
	}
	if s.baseURL != "" && url.IsRelative(URL) {
		URL = url.Join(s.baseURL, URL)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan from %s: %w", URL, err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(expr.Expand(string(data))), &node); err != nil {
		return nil, fmt.Errorf("failed to parse plan from %s: %w", URL, err)
	}
	return s.ParsePlan(URL, &node)
}

// ParsePlan converts a YAML node to a plan.
func (s *Service) ParsePlan(URL string, node *yaml.Node) (*model.Plan, error) {
	aPlan := &model.Plan{}
	if URL != "" {
		aPlan.Source = &model.Source{URL: URL}
	}
	rootNode := node
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		rootNode = node.Content[0]
	}
	if err := pairs(rootNode, func(key string, valueNode *yaml.Node) error {
		switch strings.ToLower(key) {
		case "id":
			aPlan.ID = valueNode.Value
		case "goal":
			aPlan.Goal = valueNode.Value
		case "steps":
			if valueNode.Kind != yaml.SequenceNode {
				return fmt.Errorf("steps node should be a sequence")
			}
			for _, stepNode := range valueNode.Content {
				step, err := parseStep(stepNode)
				if err != nil {
					return err
				}
				aPlan.Steps = append(aPlan.Steps, step)
			}
		case "tools":
			if valueNode.Kind != yaml.SequenceNode {
				return fmt.Errorf("tools node should be a sequence")
			}
			for _, toolNode := range valueNode.Content {
				tool, err := parseTool(toolNode)
				if err != nil {
					return err
				}
				aPlan.Tools = append(aPlan.Tools, tool)
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to parse plan from %s: %w", URL, err)
	}
	if aPlan.ID == "" {
		aPlan.ID = planNameFromURL(URL)
	}
	if issues := aPlan.Validate(); len(issues) > 0 {
		return nil, issues[0]
	}
	return aPlan, nil
}

func parseStep(node *yaml.Node) (*model.Step, error) {
	step := &model.Step{}
	err := pairs(node, func(key string, valueNode *yaml.Node) error {
		switch strings.ToLower(key) {
		case "id":
			step.ID = valueNode.Value
		case "kind":
			step.Kind = valueNode.Value
		case "parameters":
			params, err := parseParameters(valueNode)
			if err != nil {
				return fmt.Errorf("failed to parse parameters for step %s: %w", step.ID, err)
			}
			step.Parameters = params
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return step, nil
}

func parseTool(node *yaml.Node) (*model.ToolDescriptor, error) {
	tool := &model.ToolDescriptor{}
	if node.Kind == yaml.ScalarNode {
		tool.Name = node.Value
		return tool, nil
	}
	err := pairs(node, func(key string, valueNode *yaml.Node) error {
		switch strings.ToLower(key) {
		case "name":
			tool.Name = valueNode.Value
		case "description":
			tool.Description = valueNode.Value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tool, nil
}

// parseParameters reads a parameters mapping. Keys written in the compact
// form name[type](kind/location) carry type and binding metadata and are
// handled by the parameters sub-package.
func parseParameters(node *yaml.Node) (model.Parameters, error) {
	var params model.Parameters
	err := pairs(node, func(key string, valueNode *yaml.Node) error {
		if strings.Contains(key, "[") && !strings.HasSuffix(key, "[]") {
			parameter, err := parameters.Parse([]byte(key))
			if err != nil {
				return fmt.Errorf("failed to parse parameter: %w", err)
			}
			parameter.Value = scalarValue(valueNode)
			params = append(params, parameter)
			return nil
		}
		params = append(params, &model.Parameter{Name: key, Value: scalarValue(valueNode)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return params, nil
}

// scalarValue decodes a YAML node into a generic value. Untyped numeric
// scalars decode as float64 so that values compare stably with a JSON
// round-trip.
func scalarValue(node *yaml.Node) interface{} {
	var value interface{}
	if err := node.Decode(&value); err != nil {
		return node.Value
	}
	switch typed := value.(type) {
	case int:
		return float64(typed)
	case int64:
		return float64(typed)
	case uint:
		return float64(typed)
	case uint64:
		return float64(typed)
	}
	return value
}

// pairs iterates key/value pairs of a mapping node.
func pairs(node *yaml.Node, handler func(key string, valueNode *yaml.Node) error) error {
	if node == nil || node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping node")
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := handler(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func planNameFromURL(URL string) string {
	base := filepath.Base(URL)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// New creates a new plan service instance.
func New(opts ...Option) *Service {
	ret := &Service{fs: afs.New()}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}
