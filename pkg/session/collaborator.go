package session

import (
	"context"
	"time"
)

// IdentityProvider はサインイン・サインアップ・サインアウトとセッション変更の購読を提供する外部協調者。
type IdentityProvider interface {
	// Subscribe はセッション変更通知のチャネルを返す。
	// 購読直後に現在の状態を必ず1回通知し、以降はサインイン・サインアウトのたびに通知する。
	// 返される関数で購読を解除する。
	Subscribe(ctx context.Context) (<-chan IdentityEvent, func())
	// SignInWithPassword はメールアドレスとパスワードで認証する。
	SignInWithPassword(ctx context.Context, email, password string) (Principal, error)
	// SignInWithFederated は外部IdPの認証結果でサインインする。
	SignInWithFederated(ctx context.Context, cred FederatedCredential) (Principal, error)
	// SignUpWithPassword はアカウントを作成し、そのままサインインする。
	SignUpWithPassword(ctx context.Context, seed ProfileSeed, password string) (Principal, error)
	// SignOut は現在のセッションを終了する。
	SignOut(ctx context.Context) error
	// UpdateDisplayName はプロバイダー側の表示名を更新する。
	UpdateDisplayName(ctx context.Context, p Principal, name string) error
}

// ProfileStore はユーザーIDをキーとするプロフィールドキュメントのストア。
type ProfileStore interface {
	// Get はプロフィールを取得する。存在しない場合はErrProfileNotFoundを返す。
	Get(ctx context.Context, id string) (Profile, error)
	// Set はプロフィールを保存する。mergeがtrueの場合は空でないフィールドのみ上書きする。
	Set(ctx context.Context, id string, doc Profile, merge bool) error
}

// Metrics はゲートの動作を記録するフック。
type Metrics interface {
	// ObserveTransition は状態遷移を記録する。
	ObserveTransition(from, to Status)
	// ObserveDecision はナビゲーション判定を記録する。
	ObserveDecision(intent Intent, decision Decision)
	// ObserveResolveWait はナビゲーションが状態確定を待った時間を記録する。
	ObserveResolveWait(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(Status, Status) {}
func (noopMetrics) ObserveDecision(Intent, Decision) {}
func (noopMetrics) ObserveResolveWait(time.Duration) {}
