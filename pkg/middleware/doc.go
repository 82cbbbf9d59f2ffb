// Package middleware はゲートウェイのHTTP APIで使用する共通ミドルウェアを提供する。
//
// ブラウザセッションを識別するCookieの払い出し、セッショントークンの取り出し、
// パニックリカバリ、CORS設定を含む。
package middleware
