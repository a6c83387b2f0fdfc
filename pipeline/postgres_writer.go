package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-shirts/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresColumns = []string{"run_id", "title", "price", "image_url", "url", "time_text", "scraped_at"}

type copier interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresWriter copies records into a table, tagging each row with the run
// that produced it. Rows are only inserted, never updated.
type PostgresWriter struct {
	db     copier
	table  pgx.Identifier
	runID  uuid.UUID
	closer func()
}

// NewPostgresWriter connects to dsn and creates table when missing. table may
// be schema-qualified ("scraper.items").
func NewPostgresWriter(ctx context.Context, dsn, table string, runID uuid.UUID) (*PostgresWriter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	ident := tableIdentifier(table)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         bigserial PRIMARY KEY,
	run_id     uuid NOT NULL,
	title      text NOT NULL,
	price      text NOT NULL,
	image_url  text NOT NULL,
	url        text NOT NULL,
	time_text  text NOT NULL,
	scraped_at timestamptz NOT NULL
)`, ident.Sanitize())
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create table %s: %w", ident.Sanitize(), err)
	}

	return &PostgresWriter{
		db:     pool,
		table:  ident,
		runID:  runID,
		closer: pool.Close,
	}, nil
}

// Write copies items in a single COPY statement.
func (pw *PostgresWriter) Write(ctx context.Context, items []*models.Item) error {
	if len(items) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{
			pw.runID,
			item.Title,
			item.Price,
			item.ImageURL,
			item.URL,
			item.Time,
			item.ScrapedAt,
		})
	}

	copied, err := pw.db.CopyFrom(ctx, pw.table, postgresColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return &PersistenceError{Op: "copy rows", Path: pw.table.Sanitize(), Err: err}
	}
	if int(copied) != len(rows) {
		return &PersistenceError{
			Op:   "copy rows",
			Path: pw.table.Sanitize(),
			Err:  fmt.Errorf("copied %d of %d rows", copied, len(rows)),
		}
	}
	return nil
}

// Close releases the connection pool.
func (pw *PostgresWriter) Close() error {
	if pw.closer != nil {
		pw.closer()
	}
	return nil
}

func tableIdentifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(strings.TrimSpace(table), "."))
}
