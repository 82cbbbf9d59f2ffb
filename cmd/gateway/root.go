package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd はgatewayコマンドを生成する。サブコマンド無しで実行した場合はserveと同じ。
func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:   "gateway",
		Short: "ecohomeのセッションゲートウェイ",
		Long: `gatewayはecohomeのHTTPゲートウェイです。

ブラウザセッションごとに認証状態を確定させてからページへのナビゲーションを判定し、
サインイン・サインアップ・サインアウトとプロフィールAPIを提供します。
設定は環境変数（.envがあればそれも）から読み込みます。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newMigrateCmd(), newRoutesCmd(), newProbeCmd())
	return root
}
