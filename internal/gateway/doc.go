// Package gateway はecohomeのHTTPゲートウェイを提供する。
//
// ブラウザセッションごとにsession.Gateを保持し、ページへのナビゲーションを
// すべてゲートで判定してから応答する。メールアドレスとパスワード、Googleでの
// サインイン・サインアップ・サインアウトとプロフィールAPIもここで公開する。
package gateway
