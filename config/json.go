package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/warp/payroll-engine/payroll"
)

//go:embed settings.schema.json
var schemaJSON []byte

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func settingsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("settings.schema.json", bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("settings.schema.json")
	})
	return compiledSchema, schemaErr
}

// FromJSON imports settings exported by ToJSON or written by hand. Missing
// keys keep their defaults; unknown keys and out-of-range values are
// rejected with a ValidationError.
func FromJSON(data []byte) (Settings, error) {
	schema, err := settingsSchema()
	if err != nil {
		return Settings{}, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return Settings{}, &payroll.ValidationError{Field: "settings", Reason: "not valid JSON: " + err.Error()}
	}
	if err := schema.Validate(doc); err != nil {
		return Settings{}, &payroll.ValidationError{Field: "settings", Reason: schemaReason(err)}
	}

	s := Defaults()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Settings{}, &payroll.ValidationError{Field: "settings", Reason: err.Error()}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ToJSON exports settings as indented JSON.
func ToJSON(s Settings) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// schemaReason flattens the schema error tree to its most specific causes.
func schemaReason(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	var b bytes.Buffer
	for i, l := range leaves {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(l)
	}
	return b.String()
}
