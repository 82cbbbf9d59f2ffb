package session

import (
	"maps"
	"strings"
	"time"
)

// Status はセッションの認証状態を表す。
type Status int

const (
	// StatusUnknown は認証状態がまだ確定していないことを表す。初期値。
	// Unauthenticatedとして扱ってはならない。
	StatusUnknown Status = iota
	// StatusAuthenticated はプロフィール読み込み済みの認証済み状態を表す。
	StatusAuthenticated
	// StatusUnauthenticated は未認証であることが確定した状態を表す。
	StatusUnauthenticated
)

// String はStatusの文字列表現を返す。メトリクスのラベルやJSONレスポンスに使用する。
func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Profile はアプリケーションが保持するユーザープロフィール（Profile Document）。
// ゲートが所有し、取得のたびに丸ごと置き換えられる（マージしない）。
type Profile struct {
	// ID はプリンシパルIDと同一のユーザー識別子。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// FirstName は名。
	FirstName string `json:"first_name"`
	// LastName は姓。
	LastName string `json:"last_name"`
	// CreatedAt はプロフィールの作成日時。
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt はプロフィールの最終更新日時。
	UpdatedAt time.Time `json:"updated_at"`
	// Extra はIdentity Provider由来などの拡張フィールド。
	Extra map[string]string `json:"extra,omitempty"`
}

// Equal は2つのプロフィールが同一の内容かどうかを返す。
func (p Profile) Equal(other Profile) bool {
	return p.ID == other.ID &&
		p.Email == other.Email &&
		p.FirstName == other.FirstName &&
		p.LastName == other.LastName &&
		p.CreatedAt.Equal(other.CreatedAt) &&
		p.UpdatedAt.Equal(other.UpdatedAt) &&
		maps.Equal(p.Extra, other.Extra)
}

// Clone はExtraを含めたプロフィールのコピーを返す。
func (p Profile) Clone() Profile {
	p.Extra = maps.Clone(p.Extra)
	return p
}

// DisplayName は "名 姓" 形式の表示名を返す。
func (p Profile) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// State はゲートが保持するセッション状態のスナップショット。
type State struct {
	// Status は認証状態。
	Status Status
	// Profile はStatusAuthenticatedの場合のみ設定される。
	Profile *Profile
	// Synthetic は解決タイムアウトによって合成された状態であることを表す。
	Synthetic bool
}

// Authenticated はプロフィール付きの認証済み状態を生成する。
func Authenticated(p Profile) State {
	cp := p.Clone()
	return State{Status: StatusAuthenticated, Profile: &cp}
}

// Unauthenticated は未認証状態を生成する。
func Unauthenticated() State {
	return State{Status: StatusUnauthenticated}
}

// Resolved は状態がUnknownから解決済みかどうかを返す。
func (s State) Resolved() bool {
	return s.Status != StatusUnknown
}

// Equal は2つの状態が同一かどうかを返す。同一状態の再適用は無視される。
func (s State) Equal(other State) bool {
	if s.Status != other.Status || s.Synthetic != other.Synthetic {
		return false
	}
	if s.Profile == nil || other.Profile == nil {
		return s.Profile == nil && other.Profile == nil
	}
	return s.Profile.Equal(*other.Profile)
}

// clone はProfileポインタを共有しない状態のコピーを返す。
func (s State) clone() State {
	if s.Profile != nil {
		cp := s.Profile.Clone()
		s.Profile = &cp
	}
	return s
}

// Principal はIdentity Providerが返す認証済みアイデンティティ。
type Principal struct {
	// ID はプロバイダーが払い出した一意なユーザーID。
	ID string
	// Email はメールアドレス。
	Email string
	// DisplayName はプロバイダーに登録された表示名。
	DisplayName string
	// Provider は認証手段（password, google など）。
	Provider string
	// Claims はプロバイダー固有の追加属性。
	Claims map[string]string
}

// ProfileSeed はサインアップ時に入力されるプロフィールの初期値。
type ProfileSeed struct {
	// Email はメールアドレス。
	Email string
	// FirstName は名。
	FirstName string
	// LastName は姓。
	LastName string
}

// DisplayName は "名 姓" 形式の表示名を返す。
func (s ProfileSeed) DisplayName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

// ProfileUpdate はプロフィール更新で変更するフィールド。空文字のフィールドは変更しない。
type ProfileUpdate struct {
	// FirstName は新しい名。
	FirstName string
	// LastName は新しい姓。
	LastName string
	// Extra は追加・上書きする拡張フィールド。
	Extra map[string]string
}

// FederatedCredential は外部IdP（Google等）での認証結果を表す。
type FederatedCredential struct {
	// Provider はIdPの名前。
	Provider string
	// Code は認可コード。
	Code string
	// Verifier は認可リクエスト時に生成したPKCEのコード検証子。
	Verifier string
	// Error はIdPがコールバックで返したエラーコード（access_denied等）。
	Error string
}

// IdentityEvent はIdentity Providerが発行するセッション変更通知。
// Principalがnilの場合はサインアウト状態を表す。
type IdentityEvent struct {
	// Principal はサインイン中のプリンシパル。
	Principal *Principal
}

// splitDisplayName は表示名を最初の空白で名と姓に分割する。
func splitDisplayName(name string) (first, last string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}
