package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator, it reports fields by their json names.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Func is a Tool backed by a typed Go function.
type Func[I any, O any] struct {
	name        string
	description string
	params      map[string]any
	fn          func(context.Context, *I) (O, error)
}

// ensure Func implements the Tool interface
var _ Tool[struct{}, string] = (*Func[struct{}, string])(nil)

// NewFunc returns a tool with the parameters schema reflected from I.
// Arguments are decoded strictly into I and checked with `validate` struct tags
// before fn runs. The result is returned as is for string O, otherwise as JSON.
func NewFunc[I any, O any](name, description string, fn func(context.Context, *I) (O, error)) (*Func[I, O], error) {
	if name == "" {
		return nil, errors.New("tool name is required")
	}
	if fn == nil {
		return nil, errors.Newf("tool %s: function is required", name)
	}
	sc, err := schema.New(reflect.TypeFor[I]())
	if err != nil {
		return nil, errors.WithMessagef(err, "tool %s", name)
	}
	return &Func[I, O]{
		name:        name,
		description: description,
		params:      sc.Map(),
		fn:          fn,
	}, nil
}

// MustFunc is NewFunc that panics on error, for static tool definitions.
func MustFunc[I any, O any](name, description string, fn func(context.Context, *I) (O, error)) *Func[I, O] {
	f, err := NewFunc(name, description, fn)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func[I, O]) Name() string {
	return f.name
}

func (f *Func[I, O]) Description() string {
	return f.description
}

func (f *Func[I, O]) Parameters() any {
	return f.params
}

// Example returns example arguments generated from the input type.
func (f *Func[I, O]) Example() string {
	return schema.Example(reflect.TypeFor[I]())
}

// Run validates the input and calls the function.
func (f *Func[I, O]) Run(ctx context.Context, in *I) (O, error) {
	var zero O
	if err := Validator().Struct(in); err != nil {
		return zero, errors.Wrapf(ErrInvalidArguments, "%s: %s", f.name, err.Error())
	}
	out, err := f.fn(ctx, in)
	if err != nil {
		return zero, AsExecutionError(err)
	}
	return out, nil
}

func (f *Func[I, O]) Call(ctx context.Context, args string) (string, error) {
	in, err := DecodeArguments[I](args)
	if err != nil {
		return "", errors.WithMessage(err, f.name)
	}

	out, err := f.Run(ctx, in)
	if err != nil {
		return "", err
	}
	return EncodeResult(out)
}

// DecodeArguments decodes the JSON object into a new I.
// The object is checked against the parameters schema of I first,
// so missing required properties and unknown fields are rejected.
// Empty input is treated as an empty object.
func DecodeArguments[I any](args string) (*I, error) {
	args = strings.TrimSpace(args)
	if args == "" || args == "null" {
		args = "{}"
	}

	var doc any
	if err := decodeStrict(args, &doc); err != nil {
		return nil, err
	}

	sc, err := schema.New(reflect.TypeFor[I]())
	if err != nil {
		return nil, err
	}
	if err = sc.Validate(doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidArguments, "invalid input: %s", err.Error())
	}

	in := new(I)
	if err = decodeStrict(args, in); err != nil {
		return nil, err
	}
	return in, nil
}

func decodeStrict(args string, v any) error {
	dec := json.NewDecoder(strings.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(ErrInvalidArguments, "failed to unmarshal input: %s", err.Error())
	}
	if dec.More() {
		return errors.Wrap(ErrInvalidArguments, "failed to unmarshal input: trailing data")
	}
	return nil
}

// EncodeResult returns the result text of a tool call:
// strings as is, fmt.Stringer by its String, anything else as JSON.
func EncodeResult(out any) (string, error) {
	switch v := out.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	js, err := json.Marshal(out)
	if err != nil {
		return "", AsExecutionError(errors.Wrap(err, "failed to marshal output"))
	}
	return string(js), nil
}
