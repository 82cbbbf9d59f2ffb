package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nao1215/ecohome/pkg/session"
)

const (
	// tokenIssuer はセッショントークンの発行者。
	tokenIssuer = "ecohome-gateway"
	// DefaultTokenTTL はセッショントークンの既定の有効期間。
	DefaultTokenTTL = 24 * time.Hour
)

// ErrInvalidToken はセッショントークンが無効（署名不正・期限切れ等）な場合のエラー。
var ErrInvalidToken = errors.New("identity: セッショントークンが無効です")

// Claims はセッショントークンのクレーム（ペイロード）。
type Claims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name は発行時点の表示名。
	Name string `json:"name,omitempty"`
	// Provider は認証方式。
	Provider string `json:"provider"`
}

// Principal はクレームからプリンシパルを組み立てる。
func (c *Claims) Principal() session.Principal {
	return session.Principal{
		ID:          c.UserID,
		Email:       c.Email,
		DisplayName: c.Name,
		Provider:    c.Provider,
	}
}

// Tokens はHS256で署名したセッショントークンを発行・検証する。
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens は新しいTokensを生成する。ttlが0以下の場合はDefaultTokenTTLを使う。
func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue はプリンシパルのセッショントークンを発行し、トークンと有効期限を返す。
func (t *Tokens) Issue(p session.Principal) (string, time.Time, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
		UserID:   p.ID,
		Email:    p.Email,
		Name:     p.DisplayName,
		Provider: p.Provider,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse はセッショントークンを検証してクレームを返す。
func (t *Tokens) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: user_idがありません", ErrInvalidToken)
	}
	return claims, nil
}
