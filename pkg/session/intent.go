package session

import (
	"net/url"
	"strings"
)

// Intent はナビゲーション1回分の要求（NavigationIntent）。
// ルート定義から都度導出され、保存はされない。
type Intent struct {
	// Target は遷移先のフルパス（クエリを含む）。
	Target string
	// RequiresAuth は認証が必要なルートかどうか。
	RequiresAuth bool
	// RedirectIfAuthenticated は認証済みならランディングへ転送するルートかどうか。
	RedirectIfAuthenticated bool
}

// Protected はUnknown状態で通過させてはならない要求かどうかを返す。
func (i Intent) Protected() bool {
	return i.RequiresAuth || i.RedirectIfAuthenticated
}

// Outcome はナビゲーション判定の結果種別。
type Outcome int

const (
	// OutcomeAllow はそのまま描画してよいことを表す。
	OutcomeAllow Outcome = iota
	// OutcomeRedirect はLocationへ転送すべきことを表す。
	OutcomeRedirect
)

// String はOutcomeの文字列表現を返す。
func (o Outcome) String() string {
	if o == OutcomeRedirect {
		return "redirect"
	}
	return "allow"
}

// Decision はナビゲーション判定の結果。
type Decision struct {
	// Outcome は許可か転送か。
	Outcome Outcome
	// Location は転送先。OutcomeRedirectの場合のみ設定される。
	Location string
}

// Allowed はナビゲーションが許可されたかどうかを返す。
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

// Paths は転送先として使うサインインとランディングのパス。
type Paths struct {
	// SignIn はサインイン画面のパス。
	SignIn string
	// Landing は認証済みユーザーの既定の遷移先パス。
	Landing string
}

// DefaultPaths は既定のサインインとランディングのパス。
var DefaultPaths = Paths{SignIn: "/login", Landing: "/dashboard"}

// Evaluate は解決済みの状態に対して判定表を適用する。
// stateがUnknownの場合は未認証と同じ扱いにはせず、保護された要求を転送もしない。
// 呼び出し側（Gate.Guard）が事前に解決を待つ前提である。
func Evaluate(state State, intent Intent, paths Paths) Decision {
	switch state.Status {
	case StatusAuthenticated:
		if !intent.RequiresAuth && intent.RedirectIfAuthenticated {
			return Decision{Outcome: OutcomeRedirect, Location: paths.Landing}
		}
		return Decision{Outcome: OutcomeAllow}
	case StatusUnauthenticated:
		if intent.RequiresAuth {
			return Decision{Outcome: OutcomeRedirect, Location: SignInLocation(paths.SignIn, intent.Target)}
		}
		return Decision{Outcome: OutcomeAllow}
	default:
		return Decision{Outcome: OutcomeAllow}
	}
}

// SignInLocation は元の要求パスをredirectクエリに保持したサインインURLを返す。
// 例: /login?redirect=/dashboard
func SignInLocation(signIn, target string) string {
	if target == "" {
		return signIn
	}
	// パス区切りはクエリ値中でも可読性のためエスケープしない
	escaped := strings.ReplaceAll(url.QueryEscape(target), "%2F", "/")
	return signIn + "?redirect=" + escaped
}

// SafeRedirect はredirectクエリの値が同一オリジン内の相対パスであればそれを返し、
// そうでなければfallbackを返す。オープンリダイレクトを防ぐ。
func SafeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return fallback
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return target
}
