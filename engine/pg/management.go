package pg

import (
	"bufio"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
)

const versionTable = "external_task"

//go:embed ddl migration sql
var resources embed.FS

// migrateDatabase creates the external task table and its indices, if the schema has no version yet.
// The latest known version is stored as table comment. An unknown schema version, which was written by a newer
// engine, is rejected.
func migrateDatabase(ctx *pgContext) error {
	versions, err := readVersions()
	if err != nil {
		return err
	}

	schemaVersion, err := selectSchemaVersion(ctx)
	if err != nil {
		return err
	}

	latestVersion := versions[len(versions)-1]
	switch {
	case schemaVersion == latestVersion:
		return nil
	case schemaVersion != "" && !slices.Contains(versions, schemaVersion):
		return fmt.Errorf("schema version %s is not supported - latest known version is %s", schemaVersion, latestVersion)
	}

	if err := execStatements(ctx, "ddl", func(b []byte) []string {
		return []string{string(b)}
	}); err != nil {
		return err
	}

	// one statement per line
	if err := execStatements(ctx, "ddl/idx", func(b []byte) []string {
		var statements []string

		scanner := bufio.NewScanner(bytes.NewReader(b))
		for scanner.Scan() {
			if statement := strings.TrimSpace(scanner.Text()); statement != "" {
				statements = append(statements, statement)
			}
		}

		return statements
	}); err != nil {
		return err
	}

	commentOnTable := fmt.Sprintf("COMMENT ON TABLE %s IS %s", versionTable, quoteString(latestVersion))
	if _, err := ctx.tx.Exec(ctx.txCtx, commentOnTable); err != nil {
		return fmt.Errorf("failed to set schema version: %v", err)
	}

	return nil
}

// execStatements executes the statements of all files within a resource directory, ordered by file name.
func execStatements(ctx *pgContext, dir string, split func([]byte) []string) error {
	entries, err := resources.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list resources under %s: %v", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := dir + "/" + entry.Name()
		b, err := fs.ReadFile(resources, name)
		if err != nil {
			return fmt.Errorf("failed to read resource %s: %v", name, err)
		}

		for _, statement := range split(b) {
			if _, err := ctx.tx.Exec(ctx.txCtx, statement); err != nil {
				return fmt.Errorf("failed to execute %s: %v", name, err)
			}
		}
	}

	return nil
}

func readVersions() ([]string, error) {
	b, err := resources.ReadFile("migration/version.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to read resource migration/version.txt: %v", err)
	}

	var versions []string

	scanner := bufio.NewScanner(bytes.NewReader(b))
	for scanner.Scan() {
		if version := strings.TrimSpace(scanner.Text()); version != "" {
			versions = append(versions, version)
		}
	}

	if len(versions) == 0 {
		return nil, errors.New("no schema version defined")
	}

	return versions, nil
}

func selectSchemaVersion(ctx *pgContext) (string, error) {
	row := ctx.tx.QueryRow(ctx.txCtx, `
SELECT
	description
FROM
	pg_description
INNER JOIN
	pg_class
ON
	pg_description.objoid = pg_class.oid
INNER JOIN
	pg_namespace
ON
	pg_class.relnamespace = pg_namespace.oid
WHERE
	nspname = $1 AND
	relname = $2
`, ctx.options.databaseSchema, versionTable)

	var schemaVersion string
	if err := row.Scan(&schemaVersion); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("failed to select schema version: %v", err)
		}
	}

	return schemaVersion, nil
}
