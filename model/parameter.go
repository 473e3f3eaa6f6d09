package model

import (
	"github.com/viant/bindly/state"
)

// Parameter represents a named step parameter, optionally typed and bound to
// a source location (compact declaration form, see dao/plan/parameters).
type Parameter struct {
	Name     string          `json:"name" yaml:"name"`
	Value    interface{}     `json:"value,omitempty" yaml:"value,omitempty"`
	DataType string          `json:"dataType,omitempty" yaml:"dataType,omitempty"`
	Location *state.Location `json:"location,omitempty" yaml:"location,omitempty"`
	Default  interface{}     `json:"default,omitempty" yaml:"default,omitempty"`
}

// Parameters is an ordered collection of named values.
type Parameters []*Parameter

// Add appends a parameter to the collection.
func (p *Parameters) Add(name string, value interface{}) {
	*p = append(*p, &Parameter{Name: name, Value: value})
}

// Get retrieves a parameter by name.
func (p Parameters) Get(name string) (*Parameter, bool) {
	for _, param := range p {
		if param.Name == name {
			return param, true
		}
	}
	return nil, false
}

// ToMap converts the collection to a map keyed by parameter name.
func (p Parameters) ToMap() map[string]interface{} {
	result := make(map[string]interface{}, len(p))
	for _, param := range p {
		result[param.Name] = param.Value
	}
	return result
}
