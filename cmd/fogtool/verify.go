package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/app"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/storage"
)

var errVerifyFailed = errors.New("проверка не пройдена")

func newVerifyCmd(c *cli) *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "verify <dir>...",
		Short: "Проверить, что все файлы снимков разбираются",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			if strict {
				opts = append(opts, app.WithStrictNames(true))
			}
			failed := 0
			for _, dir := range args {
				_, report, err := app.LoadSnapshot(cmd.Context(), dir, opts...)
				if err != nil {
					return err
				}
				for _, f := range report.Failures {
					fmt.Fprintf(cmd.OutOrStdout(), "✗ %s [%s]\n", f, storage.Reason(f))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d файлов в порядке\n", report.Dir, report.Decoded, report.Total)
				failed += report.Failed()
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d файлов с ошибками", errVerifyFailed, failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict-names", false, "считать ошибкой несовпадение хеша в имени файла")
	return cmd
}
