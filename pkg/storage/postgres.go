package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

//go:embed migrations/*.sql
var postgresFS embed.FS

const defaultListLimit = 50

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore opens dsn, checks the connection and applies the schema
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresStore(ctx, db)
}

func newPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}

	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate runs database migrations
func (s *PostgresStore) migrate(ctx context.Context) error {
	schema, err := postgresFS.ReadFile("migrations/001_postgres_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// SaveScaleEvent inserts event, filling ID and CreatedAt when unset
func (s *PostgresStore) SaveScaleEvent(ctx context.Context, event *models.ScaleEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO scale_events (
			id, cluster, kind, namespace, name, direction,
			old_replicas, new_replicas, status, error_message,
			dry_run, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.Cluster, string(event.Kind), event.Namespace, event.Name,
		string(event.Direction), event.OldReplicas, event.NewReplicas,
		string(event.Status), nullString(event.ErrorMessage),
		event.DryRun, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save scale event: %w", err)
	}

	return nil
}

// ListScaleEvents returns matching events, newest first
func (s *PostgresStore) ListScaleEvents(ctx context.Context, filter EventFilter) ([]*models.ScaleEvent, error) {
	query, args := buildListQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scale events: %w", err)
	}
	defer rows.Close()

	var events []*models.ScaleEvent
	for rows.Next() {
		var event models.ScaleEvent
		var kind, direction, status string
		var errorMessage sql.NullString

		if err := rows.Scan(
			&event.ID, &event.Cluster, &kind, &event.Namespace, &event.Name,
			&direction, &event.OldReplicas, &event.NewReplicas,
			&status, &errorMessage, &event.DryRun, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scale event: %w", err)
		}

		event.Kind = models.WorkloadKind(kind)
		event.Direction = models.Direction(direction)
		event.Status = models.ScaleStatus(status)
		event.ErrorMessage = errorMessage.String
		events = append(events, &event)
	}

	return events, rows.Err()
}

func buildListQuery(filter EventFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("namespace", filter.Namespace)
	add("name", filter.Name)
	add("cluster", filter.Cluster)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`SELECT id, cluster, kind, namespace, name, direction,
		old_replicas, new_replicas, status, error_message, dry_run, created_at
		FROM scale_events`)
	if len(conditions) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conditions, " AND "))
	}
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d", len(args))

	return b.String(), args
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
