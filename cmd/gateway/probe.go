package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/ecohome/pkg/httpclient"
)

func newProbeCmd() *cobra.Command {
	var (
		url     string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "起動中のゲートウェイのヘルスチェックを呼び出す",
		Long: `probeは起動中のゲートウェイの/healthを呼び出し、異常なら0以外で終了します。
コンテナのヘルスチェックに使います。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if url == "" {
				port := os.Getenv("PORT")
				if port == "" {
					port = "8080"
				}
				url = "http://localhost:" + port
			}

			client := httpclient.New(url, httpclient.WithTimeout(timeout))
			if err := client.Health(cmd.Context()); err != nil {
				return fmt.Errorf("ヘルスチェックに失敗: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", url)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "ゲートウェイのベースURL（既定: http://localhost:$PORT）")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "タイムアウト")
	return cmd
}
