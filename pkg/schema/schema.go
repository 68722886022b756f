package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	jsv "github.com/google/jsonschema-go/jsonschema"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	cache   = make(map[reflect.Type]*Schema)
	cacheMu sync.Mutex
)

// Schema is the JSON schema of a tool input type.
type Schema struct {
	RawSchema *jsonschema.Schema
	// Parameters represents the Function parameters definition
	Parameters *jsonschema.Schema

	resolved *jsv.Resolved
}

// New creates a new schema from the given type
func New(t reflect.Type) (*Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	cacheMu.Lock()
	defer cacheMu.Unlock()

	if s, ok := cache[t]; ok {
		return s, nil
	}

	s, err := buildSchema(t)
	if err != nil {
		return nil, err
	}
	cache[t] = s

	return s, nil
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

// Validate checks decoded JSON arguments against the parameters definition.
func (s *Schema) Validate(args any) error {
	if s.resolved == nil {
		return errors.New("schema is not resolved")
	}
	return errors.WithStack(s.resolved.Validate(args))
}

// Map returns the parameters definition as a generic JSON object.
func (s *Schema) Map() map[string]any {
	m, _ := ToMap(s.Parameters)
	return m
}

func buildSchema(t reflect.Type) (*Schema, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Newf("unsupported input type %s: must be a struct", t.String())
	}
	raw := JSONSchema(t)

	funcDef, err := ToFunctionSchema(raw)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to build schema for %s", t.String())
	}
	resolved, err := Resolve(funcDef)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to build schema for %s", t.String())
	}
	return &Schema{
		RawSchema:  raw,
		Parameters: funcDef,
		resolved:   resolved,
	}, nil
}

// Resolve prepares the schema for validation of JSON values.
// The value may be any schema document: *jsonschema.Schema, map or raw JSON.
func Resolve(v any) (*jsv.Resolved, error) {
	var js []byte
	switch tv := v.(type) {
	case []byte:
		js = tv
	case json.RawMessage:
		js = tv
	default:
		var err error
		if js, err = json.Marshal(v); err != nil {
			return nil, errors.Wrap(err, "unable to marshal schema")
		}
	}

	sc := new(jsv.Schema)
	if err := json.Unmarshal(js, sc); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal schema")
	}
	res, err := sc.Resolve(nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to resolve schema")
	}
	return res, nil
}

// ToFunctionSchema returns the top level object definition with all
// references resolved, as expected by function calling APIs.
func ToFunctionSchema(tSchema *jsonschema.Schema) (*jsonschema.Schema, error) {
	refID := strings.TrimPrefix(tSchema.Ref, "#/$defs/")

	defs := make(map[string]*jsonschema.Schema)
	root := tSchema

	for name, def := range tSchema.Definitions {
		if name == refID {
			root = def
		} else {
			defs[name] = def
		}
	}

	properties := root.Properties
	if properties == nil {
		properties = orderedmap.New[string, *jsonschema.Schema]()
	}

	res := &jsonschema.Schema{
		Type:                 "object",
		Description:          root.Description,
		Properties:           properties,
		Required:             root.Required,
		AdditionalProperties: root.AdditionalProperties,
	}

	if err := resolveRefs(res.Properties, defs); err != nil {
		return nil, err
	}
	return res, nil
}

func resolveRefs(props *orderedmap.OrderedMap[string, *jsonschema.Schema], defs map[string]*jsonschema.Schema) error {
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		child := pair.Value
		if child.Ref != "" {
			name := strings.TrimPrefix(child.Ref, "#/$defs/")
			def, ok := defs[name]
			if !ok {
				return errors.Newf("definition not found: %s", name)
			}
			pair.Value = def
			child = def
		}
		if child.Properties != nil {
			if err := resolveRefs(child.Properties, defs); err != nil {
				return err
			}
		}
		if child.Items != nil && child.Items.Ref != "" {
			name := strings.TrimPrefix(child.Items.Ref, "#/$defs/")
			def, ok := defs[name]
			if !ok {
				return errors.Newf("definition not found: %s", name)
			}
			child.Items = def
		}
	}
	return nil
}

// JSONSchema return the json schema of the type
func JSONSchema(t reflect.Type) *jsonschema.Schema {
	r := new(jsonschema.Reflector)
	r.ExpandedStruct = true
	r.DoNotReference = true

	// The Struct name could be same in different packages,
	// add the hash of the package path to the name.
	r.Namer = func(t reflect.Type) string {
		name := t.Name()
		if t.Kind() == reflect.Struct {
			fullname := t.PkgPath() + "/" + t.Name()
			name = t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(fullname), 10)
		}
		return name
	}

	return r.ReflectFromType(t)
}

// FromAny creates a json schema from any JSON compatible value,
// for example a schema received from a remote host.
func FromAny(t any) (*jsonschema.Schema, error) {
	js, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schema")
	}
	schema := &jsonschema.Schema{}
	err = json.Unmarshal(js, schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schema")
	}
	return schema, nil
}

// ToMap converts a schema, or any JSON compatible value, to a generic JSON object.
func ToMap(t any) (map[string]any, error) {
	if m, ok := t.(map[string]any); ok {
		return m, nil
	}
	js, err := json.Marshal(t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal schema")
	}
	var m map[string]any
	if err = json.Unmarshal(js, &m); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal schema")
	}
	if m == nil {
		m = map[string]any{"type": "object"}
	}
	return m, nil
}
