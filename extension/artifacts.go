package extension

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/luxera/rungate/runtime/run"
	"github.com/viant/structology/conv"
	"github.com/viant/toolbox"
	"github.com/viant/x"
)

// Artifacts binds output-format tags to registered Go types so that raw
// artifact payloads can be decoded into typed values for display.
type Artifacts struct {
	types     *Types
	formats   map[string]string
	converter *conv.Converter
	mux       sync.RWMutex
}

func (a *Artifacts) Types() *Types {
	return a.types
}

// Bind associates an output-format tag with a registered data type name.
func (a *Artifacts) Bind(format, dataType string) {
	a.mux.Lock()
	defer a.mux.Unlock()
	a.formats[format] = dataType
}

// DataType returns the data type name bound to format or "".
func (a *Artifacts) DataType(format string) string {
	a.mux.RLock()
	defer a.mux.RUnlock()
	return a.formats[format]
}

// Decode populates artifact.Value. When the artifact format is bound to a
// registered type the payload is converted into a new instance of that type;
// otherwise the payload is normalized into a plain map with empty keys
// removed.
func (a *Artifacts) Decode(artifact *run.Artifact) error {
	if artifact == nil {
		return nil
	}
	dataType := a.DataType(artifact.Format)
	if dataType == "" {
		value, err := Normalize(artifact.Payload)
		if err != nil {
			return err
		}
		artifact.Value = value
		return nil
	}
	xType := a.types.Lookup(dataType)
	if xType == nil {
		return fmt.Errorf("unknown artifact type %q for format %q", dataType, artifact.Format)
	}
	rType := xType.Type
	for rType.Kind() == reflect.Ptr {
		rType = rType.Elem()
	}
	instance := reflect.New(rType).Interface()
	if err := a.converter.Convert(artifact.Payload, instance); err != nil {
		return fmt.Errorf("failed to decode %q artifact: %w", artifact.Format, err)
	}
	artifact.Value = instance
	return nil
}

// Normalize converts a payload into a plain map with empty keys removed.
func Normalize(payload interface{}) (map[string]interface{}, error) {
	if payload == nil {
		return nil, nil
	}
	aMap := map[string]interface{}{}
	if err := toolbox.DefaultConverter.AssignConverted(&aMap, payload); err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}
	return toolbox.DeleteEmptyKeys(aMap), nil
}

// NewArtifacts creates an artifact registry seeded with the supplied types.
func NewArtifacts(goTypes ...*x.Type) *Artifacts {
	options := conv.DefaultOptions()
	options.ClonePointerData = true
	options.IgnoreUnmapped = true
	options.AccessUnexported = true

	ret := &Artifacts{
		types:     NewTypes(),
		formats:   make(map[string]string),
		converter: conv.NewConverter(options),
	}
	for _, t := range goTypes {
		if t != nil {
			ret.types.Register(t)
		}
	}
	return ret
}
