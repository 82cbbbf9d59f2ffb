package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/ecohome/pkg/navigation"
)

func newRoutesCmd() *cobra.Command {
	var (
		file   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "ナビゲーションのルート定義を表示する",
		Long: `routesはゲートが判定に使うルート定義を検証して表示します。

--fileを省略した場合はROUTES_FILE、それも無ければ埋め込みの定義を使います。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				file = os.Getenv("ROUTES_FILE")
			}
			table, err := navigation.Load(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "table":
				w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tPATH\tREQUIRES_AUTH\tREDIRECT_IF_AUTHENTICATED")
				for _, r := range table.Routes {
					fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", r.Name, r.Path, r.RequiresAuth, r.RedirectIfAuthenticated)
				}
				paths := table.Paths()
				fmt.Fprintf(w, "\nsign-in: %s\tlanding: %s\n", paths.SignIn, paths.Landing)
				fmt.Fprintf(w, "protected: %d/%d\n", len(table.Protected()), len(table.Routes))
				return w.Flush()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(table)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(table)
			default:
				return fmt.Errorf("未対応の出力形式です: %q (table, json, yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "ルート定義のYAMLファイル")
	cmd.Flags().StringVarP(&format, "format", "o", "table", "出力形式 (table, json, yaml)")
	return cmd
}
