package schema

import (
	"encoding/json"
	"reflect"

	"github.com/brianvoe/gofakeit/v7"
)

// Faker is implemented by types that provide their own example value.
type Faker interface {
	Fake() any
}

// exampleSeed keeps the examples of a type stable across calls.
const exampleSeed = 42

// Example returns a JSON example of the type, generated by Fake when
// implemented, or filled with fake values honoring the `fake` struct tags.
func Example(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	tValue := reflect.New(t)
	instance := tValue.Interface()
	if f, ok := tValue.Elem().Interface().(Faker); ok {
		instance = f.Fake()
	} else if t.Kind() == reflect.Struct {
		_ = gofakeit.New(exampleSeed).Struct(instance)
	}
	js, err := json.Marshal(instance)
	if err != nil {
		return ""
	}
	return string(js)
}
