// Package store persists master templates in PostgreSQL so runs can be
// compared and reloaded without the artifact files.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/data-power-io/cmdump-templates/internal/template"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TableName is the table templates are written to
const TableName = "section_templates"

// ErrTemplateNotFound is returned by LoadTemplate when a run has no such template
var ErrTemplateNotFound = errors.New("template not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS section_templates (
	run_id        TEXT    NOT NULL,
	template      TEXT    NOT NULL,
	section_index INTEGER NOT NULL,
	section       TEXT    NOT NULL,
	position      INTEGER NOT NULL,
	parameter     TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (run_id, template, section_index, position)
)`

var columns = []string{"run_id", "template", "section_index", "section", "position", "parameter"}

// Store writes and reads templates
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects using the connection map returned by the config package
func NewStore(config map[string]string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	poolConfig.MaxConns = 4
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the templates table if it does not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create %s: %w", TableName, err)
	}
	return nil
}

// SaveTemplates replaces the stored rows of every given template for runID in
// one transaction.
func (s *Store) SaveTemplates(ctx context.Context, runID string, templates ...*template.Template) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for _, t := range templates {
		if t == nil {
			continue
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM section_templates WHERE run_id = $1 AND template = $2`,
			runID, t.Name); err != nil {
			return fmt.Errorf("failed to clear template %s: %w", t.Name, err)
		}

		n, err := tx.CopyFrom(ctx, pgx.Identifier{TableName}, columns, pgx.CopyFromRows(templateRows(runID, t)))
		if err != nil {
			return fmt.Errorf("failed to copy template %s: %w", t.Name, err)
		}
		total += n
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit templates: %w", err)
	}

	s.logger.Info("Stored templates",
		zap.String("run_id", runID),
		zap.Int("templates", len(templates)),
		zap.Int64("rows", total))
	return nil
}

// LoadTemplate reads one template of a run back
func (s *Store) LoadTemplate(ctx context.Context, runID, name string) (*template.Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT section, parameter
		FROM section_templates
		WHERE run_id = $1 AND template = $2
		ORDER BY section_index, position
	`, runID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query template: %w", err)
	}
	defer rows.Close()

	t := template.New(name)
	found := false
	for rows.Next() {
		var section string
		var parameter *string
		if err := rows.Scan(&section, &parameter); err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		found = true
		if parameter == nil {
			t.Add(section)
		} else {
			t.Add(section, *parameter)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating template rows: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s in run %s", ErrTemplateNotFound, name, runID)
	}
	return t, nil
}

// templateRows flattens a template into table rows. A section without
// parameters keeps one row with a NULL parameter so it survives a reload.
func templateRows(runID string, t *template.Template) [][]any {
	var out [][]any
	for i, section := range t.Sections() {
		params := t.Parameters(section)
		if len(params) == 0 {
			out = append(out, []any{runID, t.Name, int32(i), section, int32(0), nil})
			continue
		}
		for j, p := range params {
			out = append(out, []any{runID, t.Name, int32(i), section, int32(j), p})
		}
	}
	return out
}

func buildConnectionString(config map[string]string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(config["username"], config["password"]),
		Host:   config["host"] + ":" + config["port"],
		Path:   "/" + config["database"],
	}

	q := url.Values{}
	if sslmode := config["sslmode"]; sslmode != "" {
		q.Set("sslmode", sslmode)
	}
	if connectTimeout := config["connect_timeout"]; connectTimeout != "" {
		// PostgreSQL expects whole seconds
		if duration, err := time.ParseDuration(connectTimeout); err == nil {
			q.Set("connect_timeout", fmt.Sprintf("%d", int(duration.Seconds())))
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
