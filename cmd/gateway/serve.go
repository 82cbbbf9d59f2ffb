package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/nao1215/ecohome/internal/config"
	"github.com/nao1215/ecohome/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			server, err := gateway.NewServer(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			log.Printf("Gatewayサービスを起動します: :%s", cfg.Port)
			return server.Run(cmd.Context())
		},
	}
}
