package profile

import (
	"context"
	"database/sql"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries はprofilesテーブルへのクエリを実行する。
type Queries struct {
	db DBTX
}

// NewQueries は新しいQueriesを生成する。
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx はトランザクション内で実行するQueriesを返す。
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row はprofilesテーブルの1行。
type Row struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Extra     string
	CreatedAt string
	UpdatedAt string
}

const getProfile = `
SELECT id, email, first_name, last_name, extra, created_at, updated_at
FROM profiles
WHERE id = ?
`

// GetProfile はIDでプロフィールを取得する。
func (q *Queries) GetProfile(ctx context.Context, id string) (Row, error) {
	var r Row
	err := q.db.QueryRowContext(ctx, getProfile, id).Scan(
		&r.ID,
		&r.Email,
		&r.FirstName,
		&r.LastName,
		&r.Extra,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	return r, err
}

const upsertProfile = `
INSERT INTO profiles (id, email, first_name, last_name, extra, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    email = excluded.email,
    first_name = excluded.first_name,
    last_name = excluded.last_name,
    extra = excluded.extra,
    created_at = excluded.created_at,
    updated_at = excluded.updated_at
`

// UpsertProfile はプロフィールを丸ごと保存する。
func (q *Queries) UpsertProfile(ctx context.Context, r Row) error {
	_, err := q.db.ExecContext(ctx, upsertProfile,
		r.ID,
		r.Email,
		r.FirstName,
		r.LastName,
		r.Extra,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}
