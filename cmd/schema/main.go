// Command schema emits a JSON Schema for the client wire protocol so the
// browser client can validate messages and editors can offer completion.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"warzone2044/server/internal/net/proto"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "path to write the JSON schema")
	flag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	if err := writeSchema(outPath, buildSchema()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
		os.Exit(1)
	}
}

// wireMessages gathers every message shape under one schema document.
type wireMessages struct {
	Client  proto.ClientMessage  `json:"client"`
	Init    proto.InitMessage    `json:"init"`
	Join    proto.JoinMessage    `json:"join"`
	Move    proto.MoveMessage    `json:"move"`
	Shoot   proto.ShootMessage   `json:"shoot"`
	Respawn proto.RespawnMessage `json:"respawn"`
	Leave   proto.LeaveMessage   `json:"leave"`
	Error   proto.ErrorMessage   `json:"error"`
}

func buildSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(wireMessages))
	schema.Title = "Warzone 2044 Wire Protocol"
	schema.Description = fmt.Sprintf("Message shapes exchanged over the sync websocket, protocol version %d", proto.Version)
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
