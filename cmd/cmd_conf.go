package main

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	"github.com/sqlops/sqlconsole/serv"
)

func confCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	c.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Run:   cmdConfSchema,
	})
	return c
}

// configSchema reflects the config struct into a JSON Schema keyed by the
// config file names
func configSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:   "mapstructure",
		DoNotReference: true,
	}
	s := r.Reflect(&serv.Config{})
	s.Title = "sqlconsole configuration"
	return json.MarshalIndent(s, "", "  ")
}

func cmdConfSchema(*cobra.Command, []string) {
	b, err := configSchema()
	if err != nil {
		log.Fatalf("%s", err)
	}
	fmt.Println(string(b))
}
