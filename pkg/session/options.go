package session

import "time"

// WaitPolicy はUnknown状態でのナビゲーションの扱いを決める。
type WaitPolicy int

const (
	// WaitAlways はすべてのナビゲーションで状態確定を待つ。既定値。
	WaitAlways WaitPolicy = iota
	// WaitProtectedOnly はrequiresAuthとredirectIfAuthenticatedがどちらもfalseのルートを
	// Unknown状態のまま即座に許可する。
	WaitProtectedOnly
)

// ParseWaitPolicy は設定値の文字列をWaitPolicyに変換する。未知の値はWaitAlwaysとして扱う。
func ParseWaitPolicy(s string) WaitPolicy {
	if s == "protected-only" {
		return WaitProtectedOnly
	}
	return WaitAlways
}

// Option はGateの設定を変更する。
type Option func(*Gate)

// WithMetrics はメトリクスの記録先を設定する。
func WithMetrics(m Metrics) Option {
	return func(g *Gate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithPaths はサインインとランディングのパスを設定する。
func WithPaths(p Paths) Option {
	return func(g *Gate) {
		g.paths = p
	}
}

// WithWaitPolicy はUnknown状態でのナビゲーションの扱いを設定する。
func WithWaitPolicy(p WaitPolicy) Option {
	return func(g *Gate) {
		g.policy = p
	}
}

// WithResolveTimeout は初回の状態確定を待つ上限時間を設定する。
// 0以下の場合は無期限に待つ。上限を超えた場合は合成されたUnauthenticated状態になる。
func WithResolveTimeout(d time.Duration) Option {
	return func(g *Gate) {
		g.resolveTimeout = d
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}
