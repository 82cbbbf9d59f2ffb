package identity

import (
	"context"
	"database/sql"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries はusers・federated_accounts・auth_eventsテーブルへのクエリを実行する。
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

// UserRow はusersテーブルの1行。
type UserRow struct {
	ID           string
	Email        string
	PasswordHash string
	DisplayName  string
	CreatedAt    string
	LastLoginAt  string
}

// AuthEventRow はauth_eventsテーブルの1行。
type AuthEventRow struct {
	ID        string
	UserID    string
	EventType string
	Provider  string
	Data      string
	CreatedAt string
}

const userColumns = `id, email, password_hash, display_name, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (UserRow, error) {
	var u UserRow
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.CreatedAt, &u.LastLoginAt)
	return u, err
}

// GetUserByID はIDでユーザーを取得する。
func (q *Queries) GetUserByID(ctx context.Context, id string) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetUserByEmail はメールアドレスでユーザーを取得する。大文字小文字は区別しない。
func (q *Queries) GetUserByEmail(ctx context.Context, email string) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetUserByFederated は外部IdPのサブジェクトに紐付いたユーザーを取得する。
func (q *Queries) GetUserByFederated(ctx context.Context, provider, subject string) (UserRow, error) {
	return scanUser(q.db.QueryRowContext(ctx, `
SELECT u.id, u.email, u.password_hash, u.display_name, u.created_at, u.last_login_at
FROM users u
JOIN federated_accounts f ON f.user_id = u.id
WHERE f.provider = ? AND f.subject = ?
`, provider, subject))
}

// CreateUser はユーザーを作成する。
func (q *Queries) CreateUser(ctx context.Context, u UserRow) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO users (id, email, password_hash, display_name, created_at, last_login_at)
VALUES (?, ?, ?, ?, ?, ?)
`, u.ID, u.Email, u.PasswordHash, u.DisplayName, u.CreatedAt, u.LastLoginAt)
	return err
}

// LinkFederatedAccount は外部IdPのサブジェクトをユーザーに紐付ける。
func (q *Queries) LinkFederatedAccount(ctx context.Context, provider, subject, userID, createdAt string) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO federated_accounts (provider, subject, user_id, created_at)
VALUES (?, ?, ?, ?)
`, provider, subject, userID, createdAt)
	return err
}

// UpdateLastLogin は最終ログイン日時を更新する。
func (q *Queries) UpdateLastLogin(ctx context.Context, id, at string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, at, id)
	return err
}

// UpdateDisplayName は表示名を更新し、更新した行数を返す。
func (q *Queries) UpdateDisplayName(ctx context.Context, id, name string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `UPDATE users SET display_name = ? WHERE id = ?`, name, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertAuthEvent は認証イベントを記録する。
func (q *Queries) InsertAuthEvent(ctx context.Context, e AuthEventRow) error {
	_, err := q.db.ExecContext(ctx, `
INSERT INTO auth_events (id, user_id, event_type, provider, data, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, e.ID, e.UserID, e.EventType, e.Provider, e.Data, e.CreatedAt)
	return err
}

// ListAuthEventsByUser はユーザーの認証イベントを新しい順に取得する。
func (q *Queries) ListAuthEventsByUser(ctx context.Context, userID string, limit int) ([]AuthEventRow, error) {
	rows, err := q.db.QueryContext(ctx, `
SELECT id, user_id, event_type, provider, data, created_at
FROM auth_events
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []AuthEventRow
	for rows.Next() {
		var e AuthEventRow
		if err := rows.Scan(&e.ID, &e.UserID, &e.EventType, &e.Provider, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
