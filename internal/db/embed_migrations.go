package db

import (
	"embed"
	"fmt"
	"strings"
)

// MigrationFS embeds SQL migration files from internal/db/migrations, one directory per dialect.
// Used by the migrate runner (cmd/migrate) and by the store's create-if-absent provisioning.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationFS embed.FS

const baseSchema = "000001_create_records.up.sql"

// MigrationDir returns the MigrationFS directory holding the migrations of d.
func MigrationDir(d Dialect) string {
	return "migrations/" + string(d)
}

// SchemaStatements returns the create-if-absent statements of the base schema for d, in order.
func SchemaStatements(d Dialect) ([]string, error) {
	b, err := MigrationFS.ReadFile(MigrationDir(d) + "/" + baseSchema)
	if err != nil {
		return nil, fmt.Errorf("db: schema for %s: %w", d, err)
	}
	var out []string
	for _, stmt := range strings.Split(string(b), ";") {
		if s := stripComments(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func stripComments(stmt string) string {
	var lines []string
	for _, l := range strings.Split(stmt, "\n") {
		if t := strings.TrimSpace(l); t != "" && !strings.HasPrefix(t, "--") {
			lines = append(lines, l)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
