package session

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated はプリンシパルが必要な操作を未認証で実行した場合のエラー。
var ErrNotAuthenticated = errors.New("session: 認証されていません")

// ErrProfileNotFound はProfile Storeにプロフィールが存在しない場合のエラー。
// ProfileStore実装はGetで該当ドキュメントが無いときにこれを返す。
var ErrProfileNotFound = errors.New("session: プロフィールが存在しません")

// Reason はIdentityFailureの分類。
type Reason string

const (
	// ReasonInvalidCredentials はメールアドレスまたはパスワードの誤り。
	ReasonInvalidCredentials Reason = "invalid_credentials"
	// ReasonEmailInUse はサインアップ時のメールアドレス重複。
	ReasonEmailInUse Reason = "email_in_use"
	// ReasonCancelled はユーザーによる外部IdPフローの中断（ポップアップを閉じた等）。
	ReasonCancelled Reason = "cancelled"
	// ReasonUnavailable はIdentity Providerの障害。
	ReasonUnavailable Reason = "unavailable"
	// ReasonInvalidInput は入力値の不備。
	ReasonInvalidInput Reason = "invalid_input"
	// ReasonUnknown は分類できない失敗。
	ReasonUnknown Reason = "unknown"
)

// Op はエラーが発生したゲート操作名。
type Op string

const (
	// OpSignIn はメールアドレスとパスワードでのサインイン。
	OpSignIn Op = "sign_in"
	// OpSignInFederated は外部IdPでのサインイン。
	OpSignInFederated Op = "sign_in_federated"
	// OpSignUp はサインアップ。
	OpSignUp Op = "sign_up"
	// OpSignOut はサインアウト。
	OpSignOut Op = "sign_out"
	// OpUpdateProfile はプロフィール更新。
	OpUpdateProfile Op = "update_profile"
	// OpSessionChange は購読経由のセッション変更処理。
	OpSessionChange Op = "session_change"
)

// IdentityError はIdentity Providerでの失敗（IdentityFailure）を表す。
type IdentityError struct {
	// Op は失敗した操作。
	Op Op
	// Reason は失敗の分類。
	Reason Reason
	// Err は元のエラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *IdentityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity %s failed (%s): %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("identity %s failed (%s)", e.Op, e.Reason)
}

// Unwrap は元のエラーを返す。
func (e *IdentityError) Unwrap() error {
	return e.Err
}

// NewIdentityError はIdentity Provider実装が分類付きの失敗を返すためのヘルパー。
// Opはゲート側で上書きされる。
func NewIdentityError(reason Reason, err error) *IdentityError {
	return &IdentityError{Reason: reason, Err: err}
}

// ProfileStoreError はProfile Storeの読み書き失敗（ProfileStoreFailure）を表す。
type ProfileStoreError struct {
	// Op はget / set のいずれか。
	Op string
	// ID は対象のプロフィールID。
	ID string
	// Err は元のエラー。
	Err error
}

// Error はerrorインターフェースを実装する。
func (e *ProfileStoreError) Error() string {
	return fmt.Sprintf("profile store %s %q failed: %v", e.Op, e.ID, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *ProfileStoreError) Unwrap() error {
	return e.Err
}

// wrapIdentity はIdentity Providerのエラーを操作名付きのIdentityErrorに変換する。
// 実装が分類済みのIdentityErrorを返した場合はReasonを引き継ぐ。
func wrapIdentity(op Op, err error) error {
	var ie *IdentityError
	if errors.As(err, &ie) {
		return &IdentityError{Op: op, Reason: ie.Reason, Err: ie.Err}
	}
	return &IdentityError{Op: op, Reason: ReasonUnknown, Err: err}
}

// UserMessage はエラーを利用者に表示できるメッセージに変換する。
// IdentityFailureとProfileStoreFailureは区別して表示する。
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return "ログインが必要です。"
	}

	var ie *IdentityError
	if errors.As(err, &ie) {
		switch ie.Op {
		case OpSignIn:
			if ie.Reason == ReasonUnavailable {
				return "認証サービスに接続できません。しばらくしてから再度お試しください。"
			}
			return "メールアドレスまたはパスワードが正しくありません。"
		case OpSignInFederated:
			if ie.Reason == ReasonCancelled {
				return "サインインがキャンセルされました。もう一度お試しください。"
			}
			return "Googleでのサインインに失敗しました。もう一度お試しください。"
		case OpSignUp:
			if ie.Reason == ReasonEmailInUse {
				return "このメールアドレスは既に登録されています。"
			}
			return "登録に失敗しました。もう一度お試しください。"
		case OpSignOut:
			return "サインアウトに失敗しました。"
		case OpUpdateProfile:
			return "プロフィールの更新に失敗しました。"
		}
		return "認証に失敗しました。"
	}

	var pe *ProfileStoreError
	if errors.As(err, &pe) {
		return "ユーザー情報の読み込みに失敗しました。しばらくしてから再度お試しください。"
	}
	return "予期しないエラーが発生しました。"
}
