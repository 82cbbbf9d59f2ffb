// Package event は認証まわりの監査イベントを定義する。
// Identity Providerはサインイン・サインアウトなどのたびにイベントを記録し、
// 利用者は自分のイベント履歴を参照できる。
package event

import (
	"encoding/json"
	"time"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeSignedIn はサインインしたことを表す。
	TypeSignedIn Type = "SignedIn"
	// TypeSignedUp はアカウントを作成したことを表す。
	TypeSignedUp Type = "SignedUp"
	// TypeSignedOut はサインアウトしたことを表す。
	TypeSignedOut Type = "SignedOut"
	// TypeSessionRestored は保存済みのトークンからセッションを復元したことを表す。
	TypeSessionRestored Type = "SessionRestored"
	// TypeProfileUpdated は表示名などのプロフィールを更新したことを表す。
	TypeProfileUpdated Type = "ProfileUpdated"
	// TypeSignInFailed はサインインに失敗したことを表す。
	TypeSignInFailed Type = "SignInFailed"
)

// Valid は既知のイベント種別かどうかを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeSignedIn, TypeSignedUp, TypeSignedOut, TypeSessionRestored, TypeProfileUpdated, TypeSignInFailed:
		return true
	}
	return false
}

// Event は認証イベントの不変レコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// UserID は対象ユーザーのID。サインイン失敗時は空のことがある。
	UserID string `json:"user_id"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Provider は認証方式（password / google など）。
	Provider string `json:"provider"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// SignedInData はSignedInイベントのデータ。
type SignedInData struct {
	// Email はサインインに使ったメールアドレス。
	Email string `json:"email"`
	// Linked は外部IdPのアカウントを既存ユーザーに紐付けたかどうか。
	Linked bool `json:"linked,omitempty"`
}

// SignedUpData はSignedUpイベントのデータ。
type SignedUpData struct {
	// Email は登録したメールアドレス。
	Email string `json:"email"`
	// DisplayName は登録時の表示名。
	DisplayName string `json:"display_name"`
}

// SessionRestoredData はSessionRestoredイベントのデータ。
type SessionRestoredData struct {
	// ExpiresAt は復元したトークンの有効期限。
	ExpiresAt time.Time `json:"expires_at"`
}

// ProfileUpdatedData はProfileUpdatedイベントのデータ。
type ProfileUpdatedData struct {
	// DisplayName は更新後の表示名。
	DisplayName string `json:"display_name"`
}

// SignInFailedData はSignInFailedイベントのデータ。
type SignInFailedData struct {
	// Email は試行されたメールアドレス。
	Email string `json:"email"`
	// Reason は失敗の分類。
	Reason string `json:"reason"`
}

// Empty はデータを持たないイベント用の値。
type Empty struct{}
