package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nao1215/ecohome/internal/database"
	"github.com/nao1215/ecohome/pkg/event"
	"github.com/nao1215/ecohome/pkg/session"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 6

// ErrUserNotFound はユーザーが存在しない場合のエラー。
var ErrUserNotFound = errors.New("identity: ユーザーが存在しません")

// User はディレクトリに登録されたユーザー。
type User struct {
	// ID はユーザーの一意識別子（UUID）。
	ID string
	// Email はメールアドレス。
	Email string
	// DisplayName は表示名。
	DisplayName string
	// HasPassword はパスワードでサインインできるかどうか。
	HasPassword bool
	// CreatedAt は登録日時。
	CreatedAt time.Time
	// LastLoginAt は最終ログイン日時。
	LastLoginAt time.Time
}

// Principal はユーザーをプリンシパルに変換する。
func (u User) Principal(provider string) session.Principal {
	return session.Principal{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Provider:    provider,
	}
}

// Directory はユーザーの資格情報と外部IdPの紐付け、認証イベントを管理する。
type Directory struct {
	db      *sql.DB
	queries *Queries
	// cost はbcryptのコスト。
	cost int
	now  func() time.Time
}

// DirectoryOption はDirectoryの設定を変更する。
type DirectoryOption func(*Directory)

// WithBcryptCost はbcryptのコストを設定する。
func WithBcryptCost(cost int) DirectoryOption {
	return func(d *Directory) {
		d.cost = cost
	}
}

// NewDirectory は新しいDirectoryを生成する。
func NewDirectory(db *sql.DB, opts ...DirectoryOption) *Directory {
	d := &Directory{
		db:      db,
		queries: NewQueries(db),
		cost:    bcrypt.DefaultCost,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register はメールアドレスとパスワードでユーザーを登録する。
func (d *Directory) Register(ctx context.Context, email, password, displayName string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, session.NewIdentityError(session.ReasonInvalidInput, err)
	}
	if len(password) < minPasswordLength {
		return User{}, session.NewIdentityError(session.ReasonInvalidInput,
			fmt.Errorf("パスワードは%d文字以上必要です", minPasswordLength))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return User{}, session.NewIdentityError(session.ReasonInvalidInput, fmt.Errorf("パスワードのハッシュ化に失敗: %w", err))
	}

	now := database.FormatTime(d.now())
	row := UserRow{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  strings.TrimSpace(displayName),
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := d.queries.CreateUser(ctx, row); err != nil {
		if isUniqueViolation(err) {
			return User{}, session.NewIdentityError(session.ReasonEmailInUse, fmt.Errorf("メールアドレス %s は登録済みです", email))
		}
		return User{}, unavailable("ユーザーの作成に失敗", err)
	}
	return toUser(row)
}

// Authenticate はメールアドレスとパスワードを検証する。
// 存在しないメールアドレスとパスワード誤りは区別しない。
func (d *Directory) Authenticate(ctx context.Context, email, password string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, session.NewIdentityError(session.ReasonInvalidCredentials, err)
	}

	row, err := d.queries.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, session.NewIdentityError(session.ReasonInvalidCredentials, ErrUserNotFound)
	}
	if err != nil {
		return User{}, unavailable("ユーザーの取得に失敗", err)
	}
	if row.PasswordHash == "" {
		return User{}, session.NewIdentityError(session.ReasonInvalidCredentials, errors.New("パスワードが設定されていないアカウントです"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.PasswordHash), []byte(password)); err != nil {
		return User{}, session.NewIdentityError(session.ReasonInvalidCredentials, err)
	}

	row.LastLoginAt = database.FormatTime(d.now())
	if err := d.queries.UpdateLastLogin(ctx, row.ID, row.LastLoginAt); err != nil {
		log.Printf("[Identity] 最終ログイン日時の更新に失敗: user_id=%s, error=%v", row.ID, err)
	}
	return toUser(row)
}

// LinkFederated は外部IdPのアイデンティティに対応するユーザーを返す。
// 紐付けが無ければ同じメールアドレスのユーザーに紐付け、それも無ければユーザーを作成する。
// 既存ユーザーに新たに紐付けた場合はlinkedがtrueになる。
func (d *Directory) LinkFederated(ctx context.Context, provider string, id FederatedIdentity) (user User, linked bool, err error) {
	if id.Subject == "" {
		return User{}, false, session.NewIdentityError(session.ReasonInvalidInput, errors.New("サブジェクトがありません"))
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return User{}, false, unavailable("トランザクション開始に失敗", err)
	}
	defer tx.Rollback() //nolint:errcheck
	q := d.queries.WithTx(tx)

	now := database.FormatTime(d.now())
	row, err := q.GetUserByFederated(ctx, provider, id.Subject)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		email, emailErr := normalizeEmail(id.Email)
		if emailErr != nil || !id.EmailVerified {
			// 検証されていないメールアドレスでは既存アカウントに紐付けない
			email = ""
		}

		row, err = UserRow{}, sql.ErrNoRows
		if email != "" {
			row, err = q.GetUserByEmail(ctx, email)
		}
		switch {
		case err == nil:
			linked = true
		case errors.Is(err, sql.ErrNoRows):
			if email == "" {
				email = fmt.Sprintf("%s@%s.invalid", id.Subject, provider)
			}
			row = UserRow{
				ID:          uuid.New().String(),
				Email:       email,
				DisplayName: strings.TrimSpace(id.Name),
				CreatedAt:   now,
				LastLoginAt: now,
			}
			if err := q.CreateUser(ctx, row); err != nil {
				if isUniqueViolation(err) {
					return User{}, false, session.NewIdentityError(session.ReasonEmailInUse, err)
				}
				return User{}, false, unavailable("ユーザーの作成に失敗", err)
			}
		default:
			return User{}, false, unavailable("ユーザーの取得に失敗", err)
		}

		if err := q.LinkFederatedAccount(ctx, provider, id.Subject, row.ID, now); err != nil {
			return User{}, false, unavailable("外部アカウントの紐付けに失敗", err)
		}
	default:
		return User{}, false, unavailable("ユーザーの取得に失敗", err)
	}

	row.LastLoginAt = now
	if err := q.UpdateLastLogin(ctx, row.ID, now); err != nil {
		return User{}, false, unavailable("最終ログイン日時の更新に失敗", err)
	}
	if err := tx.Commit(); err != nil {
		return User{}, false, unavailable("コミットに失敗", err)
	}

	user, err = toUser(row)
	return user, linked, err
}

// UserByID はIDでユーザーを取得する。存在しない場合はErrUserNotFoundを返す。
func (d *Directory) UserByID(ctx context.Context, id string) (User, error) {
	row, err := d.queries.GetUserByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return toUser(row)
}

// SetDisplayName は表示名を更新する。
func (d *Directory) SetDisplayName(ctx context.Context, id, name string) error {
	n, err := d.queries.UpdateDisplayName(ctx, id, strings.TrimSpace(name))
	if err != nil {
		return unavailable("表示名の更新に失敗", err)
	}
	if n == 0 {
		return session.NewIdentityError(session.ReasonInvalidInput, ErrUserNotFound)
	}
	return nil
}

// Record は認証イベントを記録する。
func (d *Directory) Record(ctx context.Context, ev *event.Event) error {
	err := d.queries.InsertAuthEvent(ctx, AuthEventRow{
		ID:        ev.ID,
		UserID:    ev.UserID,
		EventType: string(ev.EventType),
		Provider:  ev.Provider,
		Data:      string(ev.Data),
		CreatedAt: database.FormatTime(ev.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("認証イベントの記録に失敗: %w", err)
	}
	return nil
}

// Events はユーザーの認証イベントを新しい順に最大limit件返す。
func (d *Directory) Events(ctx context.Context, userID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.queries.ListAuthEventsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("認証イベントの取得に失敗: %w", err)
	}

	events := make([]event.Event, 0, len(rows))
	for _, r := range rows {
		createdAt, err := database.ParseTime(r.CreatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, event.Event{
			ID:        r.ID,
			UserID:    r.UserID,
			EventType: event.Type(r.EventType),
			Provider:  r.Provider,
			Data:      json.RawMessage(r.Data),
			CreatedAt: createdAt,
		})
	}
	return events, nil
}

func toUser(r UserRow) (User, error) {
	createdAt, err := database.ParseTime(r.CreatedAt)
	if err != nil {
		return User{}, err
	}
	lastLoginAt, err := database.ParseTime(r.LastLoginAt)
	if err != nil {
		return User{}, err
	}
	return User{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		HasPassword: r.PasswordHash != "",
		CreatedAt:   createdAt,
		LastLoginAt: lastLoginAt,
	}, nil
}

// normalizeEmail はメールアドレスを検証して小文字に揃える。
func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("メールアドレスの形式が不正です: %q", email)
	}
	return strings.ToLower(addr.Address), nil
}

// isUniqueViolation は一意制約違反かどうかを返す。
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// unavailable はストレージ障害をReasonUnavailableのIdentityErrorに変換する。
func unavailable(msg string, err error) error {
	return session.NewIdentityError(session.ReasonUnavailable, fmt.Errorf("%s: %w", msg, err))
}
