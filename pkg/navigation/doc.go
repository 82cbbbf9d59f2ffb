// Package navigation はアプリケーションのルートテーブルを提供する。
//
// ルートごとに認証の要否と認証済み時の転送要否を宣言し、
// ナビゲーションのたびにsession.Intentを組み立てる。
// テーブルはYAMLで定義し、既定ではバイナリに埋め込んだroutes.yamlを使う。
package navigation
