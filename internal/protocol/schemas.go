package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "tacarena://schemas/"

// Schemas validates raw frames against the message schemas, keyed by type.
type Schemas struct {
	byType map[string]*jsonschema.Schema
}

// LoadSchemas compiles every embedded schema. The message type is the file
// name upper-cased without the .schema.json suffix.
func LoadSchemas() (*Schemas, error) {
	ents, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		b, err := schemaFS.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}
	s := &Schemas{byType: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		compiled, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		typ := strings.ToUpper(strings.TrimSuffix(name, ".schema.json"))
		s.byType[typ] = compiled
	}
	return s, nil
}

func (s *Schemas) Has(msgType string) bool {
	_, ok := s.byType[msgType]
	return ok
}

// Validate checks raw against the schema for msgType.
func (s *Schemas) Validate(msgType string, raw []byte) error {
	sch, ok := s.byType[msgType]
	if !ok {
		return fmt.Errorf("no schema for message type %q", msgType)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return sch.Validate(v)
}

// ValidateValue marshals v and validates it; used for outbound messages in tests and debug builds.
func (s *Schemas) ValidateValue(msgType string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Validate(msgType, b)
}
