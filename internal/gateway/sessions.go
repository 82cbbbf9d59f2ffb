package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/ecohome/internal/identity"
	"github.com/nao1215/ecohome/internal/metrics"
	"github.com/nao1215/ecohome/pkg/middleware"
	"github.com/nao1215/ecohome/pkg/session"
)

// contextKeyBrowserSession はGinコンテキストにブラウザセッションを格納するキー。
const contextKeyBrowserSession = "browser_session"

// browserSession はブラウザ1つ分のゲートとIdentity Provider。
type browserSession struct {
	// gate はこのセッションのナビゲーションを判定する。
	gate *session.Gate
	// client はこのセッションのIdentity Provider。
	client *identity.Client
	// lastSeen は最後にリクエストを受けた時刻。レジストリのmuで保護される。
	lastSeen time.Time
}

// newBrowserSession はセッショントークンから状態を復元するゲートを生成して開始する。
func (s *Server) newBrowserSession(ctx context.Context, token string) *browserSession {
	client := identity.NewClient(s.directory, s.tokens, token, s.federations...)
	gate := session.NewGate(client, s.profiles, s.gateOptions...)
	gate.Start(ctx)
	return &browserSession{gate: gate, client: client}
}

// session はリクエストのブラウザセッションを返す。無ければ生成する。
func (s *Server) session(c *gin.Context) *browserSession {
	if v, ok := c.Get(contextKeyBrowserSession); ok {
		if bs, ok := v.(*browserSession); ok {
			return bs
		}
	}
	bs := s.sessions.Get(middleware.GetSessionID(c), middleware.RequestToken(c))
	c.Set(contextKeyBrowserSession, bs)
	return bs
}

// sessionRegistry はセッションIDからブラウザセッションを引くレジストリ。
// 一定時間アクセスの無いセッションはゲートを閉じて破棄する。
type sessionRegistry struct {
	// idleTTL はアクセスの無いセッションを破棄するまでの時間。
	idleTTL time.Duration
	// metrics はセッション数を記録する。
	metrics *metrics.Metrics
	// factory は新しいブラウザセッションを生成する。
	factory func(ctx context.Context, token string) *browserSession
	// now は現在時刻の取得関数。
	now func() time.Time
	// ctx はゲートのイベントループの親コンテキスト。Closeでキャンセルされる。
	ctx context.Context
	// closeGates はctxをキャンセルする。
	closeGates context.CancelFunc

	// mu は以下のフィールドを保護する。
	mu sync.Mutex
	// sessions はセッションIDごとのブラウザセッション。
	sessions map[string]*browserSession
	// closed はCloseが呼ばれたかどうか。
	closed bool
	// cancel は掃除ゴルーチンを停止する。
	cancel context.CancelFunc
}

func newSessionRegistry(idleTTL time.Duration, m *metrics.Metrics, factory func(ctx context.Context, token string) *browserSession) *sessionRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &sessionRegistry{
		idleTTL:    idleTTL,
		metrics:    m,
		factory:    factory,
		now:        time.Now,
		ctx:        ctx,
		closeGates: cancel,
		sessions:   make(map[string]*browserSession),
	}
}

// Get はセッションIDに対応するブラウザセッションを返す。
// 無ければtokenから状態を復元する新しいセッションを生成する。
func (r *sessionRegistry) Get(sid, token string) *browserSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if bs, ok := r.sessions[sid]; ok && !r.closed {
		bs.lastSeen = r.now()
		return bs
	}

	bs := r.factory(r.ctx, token)
	bs.lastSeen = r.now()
	if r.closed {
		// 停止後のリクエストのセッションは登録しない
		bs.gate.Close()
		return bs
	}
	r.sessions[sid] = bs
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	return bs
}

// Len は保持しているセッション数を返す。
func (r *sessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Start はバックグラウンドで期限切れセッションの掃除を開始する。
func (r *sessionRegistry) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	interval := r.idleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}

	go func() {
		log.Printf("[Gateway] セッションの掃除を開始します: idle_ttl=%s", r.idleTTL)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Gateway] セッションの掃除を停止しました")
				return
			case <-ticker.C:
				if n := r.expire(); n > 0 {
					log.Printf("[Gateway] 期限切れのセッションを破棄しました: count=%d", n)
				}
			}
		}
	}()
}

// expire はidleTTLを超えてアクセスの無いセッションを破棄し、その数を返す。
func (r *sessionRegistry) expire() int {
	r.mu.Lock()
	deadline := r.now().Add(-r.idleTTL)
	var expired []*browserSession
	for sid, bs := range r.sessions {
		if bs.lastSeen.Before(deadline) {
			expired = append(expired, bs)
			delete(r.sessions, sid)
		}
	}
	r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, bs := range expired {
		bs.gate.Close()
	}
	r.metrics.ExpiredSessions.Add(float64(len(expired)))
	return len(expired)
}

// Close は掃除を停止し、すべてのゲートを閉じる。
func (r *sessionRegistry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
	}
	sessions := r.sessions
	r.sessions = make(map[string]*browserSession)
	r.metrics.ActiveSessions.Set(0)
	r.mu.Unlock()

	r.closeGates()
	for _, bs := range sessions {
		bs.gate.Close()
	}
}
