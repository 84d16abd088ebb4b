package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/app"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
)

func newMergeCmd(c *cli) *cobra.Command {
	var out, format string
	var fast bool
	cmd := &cobra.Command{
		Use:   "merge <dir>... --out <dir>",
		Short: "Объединить несколько снимков в один",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := c.options()
			if format != "" {
				f, err := codec.ParseFormat(format)
				if err != nil {
					return err
				}
				opts = append(opts, app.WithFormat(f))
			}
			if fast {
				opts = append(opts, app.WithCodec(codec.New(
					codec.WithCanonical(false),
					codec.WithVerifyChecksums(c.cfg.Store.GetVerifyChecksums()),
				)))
			}

			model, reports, err := app.MergeSnapshots(cmd.Context(), args, opts...)
			if err != nil {
				return err
			}
			for _, r := range reports {
				for _, f := range r.Failures {
					c.logger.Warn("пропущен файл %s: %v", f.Path, f.Err)
				}
			}
			if err := app.SaveSnapshot(cmd.Context(), model, out, opts...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "слито %d снимков: %d блоков, %d тайлов -> %s\n",
				len(args), model.BlockCount(), model.TileCount(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "каталог результата")
	cmd.Flags().StringVarP(&format, "format", "f", "", "формат записи: sync или framed")
	cmd.Flags().BoolVar(&fast, "fast", false, "быстрое неканоническое сжатие")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
