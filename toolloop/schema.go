// Copyright (c) Microsoft. All rights reserved.

package toolloop

import (
	"bytes"
	"encoding/json"
	"reflect"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var reflector = &invopop.Reflector{
	Anonymous:                  true,
	DoNotReference:             true,
	AllowAdditionalProperties:  true,
	RequiredFromJSONSchemaTags: true,
}

// GenerateSchema builds a JSON Schema for T. Struct fields are named by
// their json tag; the jsonschema tag adds required, description and enum.
func GenerateSchema[T any]() json.RawMessage {
	s := reflector.ReflectFromType(reflect.TypeOf((*T)(nil)).Elem())
	s.Version = ""
	s.ID = ""
	b, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func compileSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	url := "mem://tools/" + name + "/input.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// validateInput checks a tool's JSON input against its compiled schema.
// Empty input is treated as an empty object.
func validateInput(s *jsonschema.Schema, input json.RawMessage) error {
	if len(bytes.TrimSpace(input)) == 0 {
		input = json.RawMessage(`{}`)
	}
	var v any
	if err := json.Unmarshal(input, &v); err != nil {
		return err
	}
	return s.Validate(v)
}
