package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/xaenox/teams-extractor/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

// DatabaseConfig holds the PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

// PostgresStore is the durable Store implementation. The unique partial
// index on message_id enforces duplicate rejection at insert time.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(config DatabaseConfig) (*PostgresStore, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, res models.Resolution) (int64, error) {
	classification, err := json.Marshal(res.Classification)
	if err != nil {
		return 0, fmt.Errorf("error encoding classification: %w", err)
	}
	var quoted []byte
	if res.QuotedRequest != nil {
		quoted, err = json.Marshal(res.QuotedRequest)
		if err != nil {
			return 0, fmt.Errorf("error encoding quoted request: %w", err)
		}
	}

	query := `
		INSERT INTO messages (
			message_id, channel, author, timestamp,
			classification_json, resolution_text, quoted_request_json,
			permalink, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		nullString(res.MessageID),
		res.Channel,
		res.Author,
		nullString(res.Timestamp),
		classification,
		res.ResolutionText,
		quoted,
		nullString(res.Permalink),
		models.StatusReceived,
	).Scan(&id)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("error inserting record: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) Update(ctx context.Context, id int64, upd Update) error {
	fields := []string{"updated_at = now()"}
	var values []any

	add := func(column string, value any) {
		values = append(values, value)
		fields = append(fields, fmt.Sprintf("%s = $%d", column, len(values)))
	}

	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.Payload != nil {
		payload, err := json.Marshal(upd.Payload)
		if err != nil {
			return fmt.Errorf("error encoding payload: %w", err)
		}
		add("jira_payload_json", payload)
	}
	if upd.ForwardCode != nil {
		add("n8n_response_code", *upd.ForwardCode)
	}
	if upd.ForwardBody != nil {
		add("n8n_response_body", *upd.ForwardBody)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	} else if upd.ClearError {
		fields = append(fields, "error = NULL")
	}

	values = append(values, id)
	query := fmt.Sprintf("UPDATE messages SET %s WHERE id = $%d",
		strings.Join(fields, ", "), len(values))

	result, err := s.db.ExecContext(ctx, query, values...)
	if err != nil {
		return fmt.Errorf("error updating record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const recordColumns = `
	id, message_id, channel, author, timestamp,
	classification_json, resolution_text, quoted_request_json,
	permalink, status, jira_payload_json,
	n8n_response_code, n8n_response_body, error,
	created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id int64) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM messages WHERE id = $1", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error querying record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]*models.Record, error) {
	query := "SELECT " + recordColumns + " FROM messages WHERE 1=1"
	var params []any

	if q.Status != "" {
		params = append(params, q.Status)
		query += fmt.Sprintf(" AND status = $%d", len(params))
	}
	if q.Author != "" {
		params = append(params, "%"+q.Author+"%")
		query += fmt.Sprintf(" AND author LIKE $%d", len(params))
	}
	if q.Channel != "" {
		params = append(params, "%"+q.Channel+"%")
		query += fmt.Sprintf(" AND channel LIKE $%d", len(params))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	params = append(params, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(params))

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("error querying records: %w", err)
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("error deleting record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	now := time.Now().UTC()
	weekAgo := now.AddDate(0, 0, -7)

	queries := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&stats.Total, "SELECT COUNT(*) FROM messages", nil},
		{&stats.Forwarded, "SELECT COUNT(*) FROM messages WHERE status = $1", []any{models.StatusForwarded}},
		{&stats.Pending, "SELECT COUNT(*) FROM messages WHERE status = $1", []any{models.StatusReceived}},
		{&stats.Failed, "SELECT COUNT(*) FROM messages WHERE status = ANY($1)",
			[]any{pq.Array([]string{string(models.StatusFailed), string(models.StatusAgentError), string(models.StatusN8NError)})}},
		{&stats.Today, "SELECT COUNT(*) FROM messages WHERE created_at::date = $1::date", []any{now}},
		{&stats.ThisWeek, "SELECT COUNT(*) FROM messages WHERE created_at >= $1", []any{weekAgo}},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query, q.args...).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("error querying stats: %w", err)
		}
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec            models.Record
		messageID      sql.NullString
		timestamp      sql.NullString
		classification []byte
		quoted         []byte
		permalink      sql.NullString
		payload        []byte
		forwardCode    sql.NullInt64
		forwardBody    sql.NullString
		errText        sql.NullString
	)

	err := row.Scan(
		&rec.ID, &messageID, &rec.Channel, &rec.Author, &timestamp,
		&classification, &rec.ResolutionText, &quoted,
		&permalink, &rec.Status, &payload,
		&forwardCode, &forwardBody, &errText,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.MessageID = messageID.String
	rec.Timestamp = timestamp.String
	rec.Permalink = permalink.String
	rec.ForwardBody = forwardBody.String
	rec.Error = errText.String
	if forwardCode.Valid {
		code := int(forwardCode.Int64)
		rec.ForwardCode = &code
	}

	if len(classification) > 0 {
		if err := json.Unmarshal(classification, &rec.Classification); err != nil {
			return nil, fmt.Errorf("error decoding classification: %w", err)
		}
	}
	if len(quoted) > 0 {
		rec.QuotedRequest = &models.QuotedRequest{}
		if err := json.Unmarshal(quoted, rec.QuotedRequest); err != nil {
			return nil, fmt.Errorf("error decoding quoted request: %w", err)
		}
	}
	if len(payload) > 0 {
		rec.Payload = &models.Payload{}
		if err := json.Unmarshal(payload, rec.Payload); err != nil {
			return nil, fmt.Errorf("error decoding payload: %w", err)
		}
	}
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
