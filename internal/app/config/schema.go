package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed schema.cue
var schemaSource string

// Schema returns the CUE source the config is checked against.
func Schema() string { return schemaSource }

// ValidateSchema checks a raw YAML document against #Config. Unknown keys and
// out-of-range values are rejected.
func ValidateSchema(raw []byte) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}
	if err := cueyaml.Validate(raw, def); err != nil {
		return fmt.Errorf("config schema validation failed: %w", err)
	}
	return nil
}
