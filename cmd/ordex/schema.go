package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"

	"github.com/ordexlabs/ordex/pkg/config"
)

// SchemaCmd generates JSON Schema from the config structs. Output goes
// to stdout so it can be redirected or piped.
type SchemaCmd struct {
	Compact bool `short:"c" help:"Compact JSON output (no indentation)."`
}

func (c *SchemaCmd) Run() error {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		// Inline all definitions (no $ref) so editors and form builders
		// can consume the schema directly.
		DoNotReference: true,
	}

	schema := reflector.Reflect(&config.Config{})

	schema.ID = "https://github.com/ordexlabs/ordex/schemas/config.json"
	schema.Title = "Ordex Configuration Schema"
	schema.Description = "Configuration schema for ordinance extraction runs"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	schema.Examples = []interface{}{
		map[string]interface{}{
			"out_dir":      "./out",
			"county_table": "./counties.csv",
			"llm": map[string]interface{}{
				"model":   "gpt-4o",
				"api_key": "${OPENAI_API_KEY}",
			},
			"search": map[string]interface{}{
				"num_urls":     5,
				"max_browsers": 10,
			},
		},
	}

	encoder := json.NewEncoder(os.Stdout)
	if !c.Compact {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(schema); err != nil {
		return fmt.Errorf("failed to encode schema: %w", err)
	}

	return nil
}
