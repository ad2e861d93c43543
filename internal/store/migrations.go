package store

import (
	"context"
	"database/sql"
	_ "embed"
	"strings"

	"github.com/chainsight/responder/pkg/schema"
)

//go:embed migrations/001_initial_schema.sql
var revisionInitialSchema string

// revision is one versioned slice of the responder schema: the run table,
// the event log, or the collaborator reference data. Each revision applies
// inside its own transaction; a partially applied revision rolls back whole.
type revision struct {
	version int
	name    string
	script  string
}

var revisions = []revision{
	{version: 1, name: "initial_schema", script: revisionInitialSchema},
}

// runMigrations brings the database up to the latest revision. schema_version
// records what has been applied, so calling this on every start is safe.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return schema.NewError(schema.ErrCodeStore, "create schema_version table").WithCause(err)
	}

	var current int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return schema.NewError(schema.ErrCodeStore, "read applied schema version").WithCause(err)
	}

	for _, rev := range revisions {
		if rev.version <= current {
			continue
		}
		if err := applyRevision(ctx, db, rev); err != nil {
			return err
		}
	}
	return nil
}

func applyRevision(ctx context.Context, db *sql.DB, rev revision) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return revisionError(rev, "begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(rev.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return revisionError(rev, "apply", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, rev.version, rev.name); err != nil {
		return revisionError(rev, "record", err)
	}
	if err := tx.Commit(); err != nil {
		return revisionError(rev, "commit", err)
	}
	return nil
}

func revisionError(rev revision, action string, cause error) error {
	return schema.NewErrorf(schema.ErrCodeStore, "%s schema revision %d (%s)",
		action, rev.version, rev.name).
		WithCause(cause).
		WithDetails(map[string]any{"revision": rev.version, "name": rev.name})
}

// sqlStatements splits an embedded revision script into executable
// statements. Line comments are stripped first so a script that ends in
// commentary never yields an empty trailing statement.
func sqlStatements(script string) []string {
	var code strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		code.WriteString(line)
		code.WriteByte('\n')
	}

	var stmts []string
	for _, raw := range strings.Split(code.String(), ";") {
		if stmt := strings.TrimSpace(raw); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
