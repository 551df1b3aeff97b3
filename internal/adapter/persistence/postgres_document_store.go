package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
)

// PostgresDocumentStore implements DocumentStore over a JSONB documents table
type PostgresDocumentStore struct {
	db *sql.DB
}

// NewPostgresDocumentStore creates a new PostgreSQL document store
func NewPostgresDocumentStore(db *sql.DB) ports.DocumentStore {
	return &PostgresDocumentStore{db: db}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Get retrieves one document by id
func (s *PostgresDocumentStore) Get(ctx context.Context, collection, id string) (*ports.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = $1 AND id = $2",
		collection, id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	data, err := decodeData(raw)
	if err != nil {
		return nil, err
	}
	return &ports.Document{ID: id, Data: data}, nil
}

// Query retrieves documents matching every filter
func (s *PostgresDocumentStore) Query(ctx context.Context, collection string, q domain.StoreQuery) ([]ports.Document, error) {
	query, args, err := buildSelect(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := make([]ports.Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeData(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, ports.Document{ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	// Cursor paging runs after ordering; the SQL limit is skipped when a cursor is set.
	if q.StartAfter != "" {
		return page(docs, q.StartAfter, q.Limit), nil
	}
	return docs, nil
}

// buildSelect translates a StoreQuery into SQL. Field names are bound as
// parameters, never interpolated.
func buildSelect(collection string, q domain.StoreQuery) (string, []interface{}, error) {
	args := []interface{}{collection}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"collection = $1"}
	for _, f := range q.Filters {
		if err := f.Validate(); err != nil {
			return "", nil, err
		}
		clause, err := filterClause(f, arg)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, clause)
	}

	query := "SELECT id, data FROM documents WHERE " + strings.Join(conditions, " AND ")

	order := make([]string, 0, len(q.OrderBy)+2)
	for _, o := range q.OrderBy {
		if !domain.IsFieldName(o.Field) {
			return "", nil, fmt.Errorf("invalid order field %q", o.Field)
		}
		dir := "ASC NULLS LAST"
		if o.Descending() {
			dir = "DESC NULLS LAST"
		}
		order = append(order, fmt.Sprintf("data->%s::text %s", arg(o.Field), dir))
	}
	order = append(order, "created_at ASC", "id ASC")
	query += " ORDER BY " + strings.Join(order, ", ")

	if q.Limit > 0 && q.StartAfter == "" {
		query += " LIMIT " + arg(q.Limit)
	}
	return query, args, nil
}

func filterClause(f domain.Filter, arg func(interface{}) string) (string, error) {
	field := arg(f.Field) + "::text"

	switch f.Operator {
	case domain.OpEqual, domain.OpLess, domain.OpLessEqual, domain.OpGreater, domain.OpGreaterEqual:
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", fmt.Errorf("invalid value for %s: %w", f.Field, err)
		}
		return fmt.Sprintf("data->%s %s %s::jsonb", field, sqlOperator(f.Operator), arg(string(value))), nil

	case domain.OpNotEqual:
		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", fmt.Errorf("invalid value for %s: %w", f.Field, err)
		}
		return fmt.Sprintf("data->%s %s %s::jsonb", field, sqlOperator(f.Operator), arg(string(value))), nil

	case domain.OpIn:
		list, _ := f.Value.([]any)
		encoded := make([]string, 0, len(list))
		for _, item := range list {
			b, err := json.Marshal(item)
			if err != nil {
				return "", fmt.Errorf("invalid value for %s: %w", f.Field, err)
			}
			encoded = append(encoded, string(b))
		}
		return fmt.Sprintf("data->%s = ANY(%s::jsonb[])", field, arg(pq.Array(encoded))), nil

	case domain.OpContains:
		needle, ok := f.Value.(string)
		if !ok {
			return "", fmt.Errorf("contains on %s requires a string", f.Field)
		}
		return fmt.Sprintf("data->>%s ILIKE %s", field, arg("%"+escapeLike(needle)+"%")), nil

	case domain.OpArrayContains:
		value, err := json.Marshal([]any{f.Value})
		if err != nil {
			return "", fmt.Errorf("invalid value for %s: %w", f.Field, err)
		}
		return fmt.Sprintf("data->%s @> %s::jsonb", field, arg(string(value))), nil
	}
	return "", fmt.Errorf("unsupported filter operator %q", f.Operator)
}

// sqlOperator maps a comparison filter operator to its SQL spelling
func sqlOperator(op domain.FilterOperator) string {
	switch op {
	case domain.OpEqual:
		return "="
	case domain.OpNotEqual:
		return "<>"
	}
	return string(op)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Add saves a new document and returns its generated id
func (s *PostgresDocumentStore) Add(ctx context.Context, collection string, data domain.Fields) (string, error) {
	id := uuid.NewString()
	if err := insertDocument(ctx, s.db, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// Update merges data into an existing document
func (s *PostgresDocumentStore) Update(ctx context.Context, collection, id string, data domain.Fields) error {
	return updateDocument(ctx, s.db, collection, id, data)
}

// Delete removes a document
func (s *PostgresDocumentStore) Delete(ctx context.Context, collection, id string) error {
	return deleteDocument(ctx, s.db, collection, id)
}

// Batch applies every mutation in one transaction
func (s *PostgresDocumentStore) Batch(ctx context.Context, mutations []ports.Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i, m := range mutations {
		var err error
		switch m.Kind {
		case ports.MutationSet:
			err = upsertDocument(ctx, tx, m.Collection, m.ID, m.Data)
		case ports.MutationUpdate:
			err = updateDocument(ctx, tx, m.Collection, m.ID, m.Data)
		case ports.MutationDelete:
			err = deleteDocument(ctx, tx, m.Collection, m.ID)
		default:
			err = fmt.Errorf("unknown kind %q", m.Kind)
		}
		if err != nil {
			return fmt.Errorf("mutation %d on %s/%s: %w", i, m.Collection, m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func insertDocument(ctx context.Context, q queryer, collection, id string, data domain.Fields) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)",
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func upsertDocument(ctx context.Context, q queryer, collection, id string, data domain.Fields) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = CURRENT_TIMESTAMP`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

func updateDocument(ctx context.Context, q queryer, collection, id string, data domain.Fields) error {
	raw, err := encodeData(data)
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, `
		UPDATE documents SET data = data || $3::jsonb, updated_at = CURRENT_TIMESTAMP
		WHERE collection = $1 AND id = $2`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return requireAffected(result)
}

func deleteDocument(ctx context.Context, q queryer, collection, id string) error {
	result, err := q.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = $1 AND id = $2",
		collection, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ports.ErrDocumentNotFound
	}
	return nil
}

func encodeData(data domain.Fields) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal document: %w", err)
	}
	return string(raw), nil
}

func decodeData(raw []byte) (domain.Fields, error) {
	var data domain.Fields
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	if data == nil {
		data = domain.Fields{}
	}
	return data, nil
}
