// Package session はブラウザセッション単位の認証ゲート（Session Gate）を提供する。
//
// Identity Providerから非同期に届くセッション変更通知と、同期的に発生する
// ナビゲーション要求を突き合わせる。認証状態が確定（Unknownから解決）するまで
// 保護されたビューを描画させないことが最重要の不変条件である。
//
// 状態遷移はIdentity Providerのイベントチャネルを単一のゴルーチンで消費して行い、
// 確定した状態はSubscribeで登録されたオブザーバーへブロードキャストする。
// サインイン・サインアップ・サインアウトは購読イベントを待たずに同期的に状態を確定させ、
// 後から届く同じ通知は冪等に処理される。
package session
