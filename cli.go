package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Um11aut/PPgram-api-sub000/internal/config"
	"github.com/Um11aut/PPgram-api-sub000/internal/db"
)

// RunCLI handles subcommand execution. Returns true if a subcommand was handled.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("ppgram server %s\n", Version)
		return true
	case "schema":
		return cliSchema()
	case "check-env":
		return cliCheckEnv()
	default:
		return false
	}
}

// cliSchema prints the CQL the server applies at startup, for operators who
// provision the keyspace by hand.
func cliSchema() bool {
	for _, stmt := range db.SchemaDDL {
		fmt.Printf("%s;\n\n", stmt)
	}
	return true
}

// cliCheckEnv resolves the configuration the way the server would and dumps
// it, so a broken deployment can be diagnosed without starting listeners.
func cliCheckEnv() bool {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println(string(out))
	return true
}
