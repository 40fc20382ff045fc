// migrate applies the embedded SQL migrations to the configured database.
//
// Usage:
//
//	TALLY_DATABASE_URL=postgres://... go run ./cmd/migrate -direction up
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"tally/cmd/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	dsn := strings.TrimSpace(os.Getenv("TALLY_DATABASE_URL"))
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "TALLY_DATABASE_URL is not set")
		os.Exit(1)
	}

	if err := db.Run(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
