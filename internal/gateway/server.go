package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/ecohome/internal/config"
	"github.com/nao1215/ecohome/internal/database"
	"github.com/nao1215/ecohome/internal/identity"
	"github.com/nao1215/ecohome/internal/metrics"
	"github.com/nao1215/ecohome/internal/profile"
	"github.com/nao1215/ecohome/pkg/middleware"
	"github.com/nao1215/ecohome/pkg/navigation"
	"github.com/nao1215/ecohome/pkg/session"
)

// shutdownTimeout はグレースフルシャットダウンで処理中のリクエストを待つ上限。
const shutdownTimeout = 10 * time.Second

// Server はecohomeゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// db はSQLiteデータベース接続。
	db *sql.DB
	// table はナビゲーションのルート定義。
	table *navigation.Table
	// paths はサインインとランディングのパス。
	paths session.Paths
	// directory は資格情報と認証イベントのストア。
	directory *identity.Directory
	// profiles はProfile Store。
	profiles *profile.Store
	// tokens はセッショントークンの発行と検証を行う。
	tokens *identity.Tokens
	// federations は有効な外部IdP。
	federations []identity.Federation
	// metrics はPrometheusメトリクス。
	metrics *metrics.Metrics
	// sessions はブラウザセッションのレジストリ。
	sessions *sessionRegistry
	// cookies はセッション系Cookieの属性。
	cookies middleware.CookieOptions
	// gateOptions はセッションごとのゲートに渡す設定。
	gateOptions []session.Option
}

// deps はサーバーが利用する外部資源。
type deps struct {
	db          *sql.DB
	table       *navigation.Table
	directory   *identity.Directory
	federations []identity.Federation
}

// NewServer は設定からデータベースとルート定義、外部IdPを準備してサーバーを生成する。
func NewServer(ctx context.Context, cfg config.Config) (*Server, error) {
	table, err := navigation.Load(cfg.RoutesFile)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenAndMigrate(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	var federations []identity.Federation
	if cfg.Google.Enabled() {
		google, err := identity.NewOIDC(ctx, cfg.Google)
		if err != nil {
			db.Close()
			return nil, err
		}
		federations = append(federations, google)
	} else {
		log.Println("[Gateway] Googleサインインは設定されていないため無効です")
	}

	if cfg.DevSecret() {
		log.Println("[Gateway] 開発用のJWT署名鍵で起動しています。本番環境ではJWT_SECRETを設定してください")
	}

	return newServer(cfg, deps{
		db:          db,
		table:       table,
		directory:   identity.NewDirectory(db),
		federations: federations,
	}), nil
}

// newServer は準備済みの資源からサーバーを組み立てる。
func newServer(cfg config.Config, d deps) *Server {
	m := metrics.New()

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS([]string{cfg.FrontendURL}))

	s := &Server{
		router:      router,
		port:        cfg.Port,
		db:          d.db,
		table:       d.table,
		paths:       d.table.Paths(),
		directory:   d.directory,
		profiles:    profile.NewStore(d.db),
		tokens:      identity.NewTokens(cfg.JWTSecret, cfg.TokenTTL),
		federations: d.federations,
		metrics:     m,
		cookies:     middleware.CookieOptions{Secure: cfg.CookieSecure},
	}
	s.gateOptions = []session.Option{
		session.WithMetrics(m),
		session.WithPaths(s.paths),
		session.WithWaitPolicy(cfg.WaitPolicy),
		session.WithResolveTimeout(cfg.SessionResolveTimeout),
	}
	s.sessions = newSessionRegistry(cfg.SessionIdleTTL, m, s.newBrowserSession)
	s.setupRoutes()

	return s
}

// Handler はサーバーのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーとセッションの掃除を開始し、ctxが終了したらグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	s.sessions.Start(ctx)
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	log.Println("[Gateway] シャットダウンを開始します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// Close はすべてのブラウザセッションを閉じ、データベース接続を解放する。
func (s *Server) Close() {
	s.sessions.Close()
	if err := s.db.Close(); err != nil {
		log.Printf("[Gateway] データベース接続のクローズに失敗: %v", err)
	}
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	sid := middleware.SessionID(s.cookies)

	// ページ（ナビゲーションガード付き）
	pages := s.router.Group("/", sid)
	for _, route := range s.table.Routes {
		pages.GET(route.Path, s.guardPage(), s.handlePage(route))
	}

	// 認証エンドポイント（認証不要）
	auth := s.router.Group("/auth", sid)
	{
		auth.POST("/login", s.handleLogin())
		auth.POST("/register", s.handleRegister())
		auth.POST("/logout", s.handleLogout())
		for _, f := range s.federations {
			auth.GET("/"+f.Name(), s.handleFederatedLogin(f))
			auth.GET("/"+f.Name()+"/callback", s.handleFederatedCallback(f))
		}
	}

	// API
	api := s.router.Group("/api/v1", sid)
	{
		// 状態の確定を待たずに返す
		api.GET("/session", s.handleSession())

		me := api.Group("", s.requireAuth())
		me.GET("/me", s.handleGetMe())
		me.PUT("/me", s.handleUpdateMe())
		me.GET("/events", s.handleEvents())
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ページが見つかりません"})
	})
}

// handleHealth はデータベースの疎通を確認するハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			log.Printf("[Gateway] ヘルスチェックでデータベースに接続できません: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "gateway"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"service":  "gateway",
			"sessions": s.sessions.Len(),
		})
	}
}
