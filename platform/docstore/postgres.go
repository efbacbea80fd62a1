package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQL SQLSTATE codes that mean "retry the whole transaction".
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// PostgresStore keeps documents as JSONB rows in the documents table and runs
// transactions at SERIALIZABLE isolation.
type PostgresStore struct {
	pool        *pgxpool.Pool
	maxAttempts int
}

// NewPostgresStore creates a store backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, maxAttempts: defaultMaxAttempts}
}

func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) Get(ctx context.Context, ref Ref, dst any) error {
	return (&pgTx{q: s.pool}).Get(ctx, ref, dst)
}

func (s *PostgresStore) Apply(ctx context.Context, ref Ref, patch *Patch) error {
	return s.RunInTransaction(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Apply(ctx, ref, patch)
	})
}

func (s *PostgresStore) Delete(ctx context.Context, ref Ref) error {
	return (&pgTx{q: s.pool}).Delete(ctx, ref)
}

func (s *PostgresStore) List(ctx context.Context, collection, idPrefix string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, body FROM documents
		WHERE collection = $1 AND id LIKE $2 ESCAPE '\'
		ORDER BY id
	`, collection, escapeLike(idPrefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	defer rows.Close()

	out := make([]Document, 0)
	for rows.Next() {
		var id string
		var body []byte
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		out = append(out, Document{Ref: Ref{Collection: collection, ID: id}, Body: body})
	}
	return out, rows.Err()
}

// querier is the subset shared by pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgTx struct {
	q querier
}

func (t *pgTx) Get(ctx context.Context, ref Ref, dst any) error {
	body, err := t.read(ctx, ref, false)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func (t *pgTx) Set(ctx context.Context, ref Ref, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	return t.write(ctx, ref, body)
}

func (t *pgTx) Apply(ctx context.Context, ref Ref, patch *Patch) error {
	raw, err := t.read(ctx, ref, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	body, err := decodeObject(raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	if err := ApplyPatch(body, patch); err != nil {
		return fmt.Errorf("patch %s: %w", ref, err)
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ref, err)
	}
	return t.write(ctx, ref, encoded)
}

func (t *pgTx) Delete(ctx context.Context, ref Ref) error {
	_, err := t.q.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", ref, err)
	}
	return nil
}

func (t *pgTx) read(ctx context.Context, ref Ref, forUpdate bool) ([]byte, error) {
	query := `SELECT body FROM documents WHERE collection = $1 AND id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var body []byte
	err := t.q.QueryRow(ctx, query, ref.Collection, ref.ID).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return body, nil
}

func (t *pgTx) write(ctx context.Context, ref Ref, body []byte) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO documents (collection, id, body, version, updated_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (collection, id) DO UPDATE
		SET body = EXCLUDED.body, version = documents.version + 1, updated_at = now()
	`, ref.Collection, ref.ID, body)
	if err != nil {
		return fmt.Errorf("write %s: %w", ref, err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
