package main

import (
	"log"
	"os"

	"github.com/codemapper/codemap-mcp/internal/symstore"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Startup info goes to stderr; stdout is reserved for the MCP protocol
	// when serving.
	log.SetOutput(os.Stderr)
	log.Printf("codemap v%s (built %s, sqlite driver %s)", version, buildTime, symstore.DriverName)

	Execute()
}
