// Package httpclient はゲートウェイのHTTP APIを呼び出すクライアントを提供する。
//
// Cookieジャーでブラウザセッションを維持するため、サインイン後の呼び出しは
// 同じセッションとして扱われる。CLIの疎通確認やE2Eテストから使用する。
package httpclient
