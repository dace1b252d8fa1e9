// Command hateno-genschema generates JSON Schema documents from Hateno's
// Go config structs. Run from the repository root:
//
//	go run ./cmd/hateno-genschema
//
// Output:
//
//	docs/schema/hateno-conf-schema.json
//	docs/schema/maker-request-schema.json
package main

import (
	"fmt"
	"os"

	"github.com/JeremyHeleine/hateno-go/internal/hateno/docgen"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "hateno-genschema: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if _, err := os.Stat("go.mod"); err != nil {
		return fmt.Errorf("must run from repository root (go.mod not found)")
	}

	confSchema, err := docgen.GenerateConfigSchema()
	if err != nil {
		return fmt.Errorf("generating hateno.conf schema: %w", err)
	}
	if err := docgen.WriteSchema("docs/schema/hateno-conf-schema.json", confSchema); err != nil {
		return err
	}

	reqSchema, err := docgen.GenerateMakerRequestSchema()
	if err != nil {
		return fmt.Errorf("generating maker request schema: %w", err)
	}
	if err := docgen.WriteSchema("docs/schema/maker-request-schema.json", reqSchema); err != nil {
		return err
	}

	fmt.Println("Generated:")
	fmt.Println("  docs/schema/hateno-conf-schema.json")
	fmt.Println("  docs/schema/maker-request-schema.json")
	return nil
}
