// Package config はゲートウェイの設定を環境変数から読み込む。
// カレントディレクトリに.envがあれば先に読み込み、既に設定済みの環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/nao1215/ecohome/internal/identity"
	"github.com/nao1215/ecohome/pkg/session"
)

// devJWTSecret は開発用のJWT署名鍵。
const devJWTSecret = "dev-secret-key"

// Config はゲートウェイの設定。
type Config struct {
	// Port はHTTPサーバーのリッスンポート。
	Port string
	// DatabasePath はSQLiteデータベースファイルのパス。
	DatabasePath string
	// JWTSecret はセッショントークンの署名鍵。
	JWTSecret string
	// TokenTTL はセッショントークンの有効期間。
	TokenTTL time.Duration
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string
	// SessionIdleTTL はアクセスの無いブラウザセッションを破棄するまでの時間。
	SessionIdleTTL time.Duration
	// SessionResolveTimeout は初回の認証状態確定を待つ上限。0なら無期限。
	SessionResolveTimeout time.Duration
	// WaitPolicy はUnknown状態でのナビゲーションの扱い。
	WaitPolicy session.WaitPolicy
	// RoutesFile はルート定義のYAMLファイル。空なら埋め込みの定義を使う。
	RoutesFile string
	// CookieSecure はCookieにSecure属性を付けるかどうか。
	CookieSecure bool
	// Google はGoogleサインインの設定。
	Google identity.FederatedConfig
}

// Load は.envと環境変数から設定を読み込む。
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}
	return FromEnv()
}

// FromEnv は環境変数から設定を組み立てる。
func FromEnv() (Config, error) {
	cfg := Config{
		Port:         getEnvOr("PORT", "8080"),
		DatabasePath: getEnvOr("DATABASE_PATH", "/data/ecohome.db"),
		JWTSecret:    getEnvOr("JWT_SECRET", devJWTSecret),
		FrontendURL:  getEnvOr("FRONTEND_URL", "http://localhost:3000"),
		RoutesFile:   os.Getenv("ROUTES_FILE"),
		WaitPolicy:   session.ParseWaitPolicy(os.Getenv("SESSION_WAIT_POLICY")),
		Google: identity.FederatedConfig{
			Provider:     "google",
			Issuer:       getEnvOr("OIDC_ISSUER", identity.GoogleIssuer),
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
		},
	}

	var err error
	if cfg.TokenTTL, err = durationEnv("TOKEN_TTL", identity.DefaultTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTTL, err = durationEnv("SESSION_IDLE_TTL", 30*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SessionResolveTimeout, err = durationEnv("SESSION_RESOLVE_TIMEOUT", 0); err != nil {
		return Config{}, err
	}
	if cfg.CookieSecure, err = boolEnv("COOKIE_SECURE", false); err != nil {
		return Config{}, err
	}

	if cfg.SessionIdleTTL <= 0 {
		return Config{}, fmt.Errorf("SESSION_IDLE_TTLは正の値である必要があります: %s", cfg.SessionIdleTTL)
	}
	if cfg.SessionResolveTimeout < 0 {
		return Config{}, fmt.Errorf("SESSION_RESOLVE_TIMEOUTは0以上である必要があります: %s", cfg.SessionResolveTimeout)
	}
	return cfg, nil
}

// DevSecret は開発用の署名鍵のまま起動しているかどうかを返す。
func (c Config) DevSecret() bool {
	return c.JWTSecret == devJWTSecret
}

// getEnvOr は環境変数を取得し、設定されていない場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%sの値が不正です: %q: %w", key, v, err)
	}
	return d, nil
}

func boolEnv(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%sの値が不正です: %q: %w", key, v, err)
	}
	return b, nil
}
