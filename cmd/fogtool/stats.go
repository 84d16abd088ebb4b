package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/app"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/storage"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

type statsOutput struct {
	Dir      string                 `json:"dir"`
	Blocks   int                    `json:"blocks"`
	Tiles    int                    `json:"tiles"`
	Pixels   int                    `json:"pixels"`
	Failed   int                    `json:"failed"`
	Regions  []string               `json:"regions"`
	Sources  []world.SnapshotSource `json:"sources"`
	Summary  []world.BlockSummary   `json:"summary,omitempty"`
	Failures []string               `json:"failures,omitempty"`
}

func newStatsCmd(c *cli) *cobra.Command {
	var asJSON, perBlock bool
	cmd := &cobra.Command{
		Use:   "stats <dir>",
		Short: "Показать сводку по снимку",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model, report, err := app.LoadSnapshot(cmd.Context(), args[0], c.options()...)
			if err != nil {
				return err
			}
			out := buildStats(model, report, perBlock)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			return printStats(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "вывести JSON")
	cmd.Flags().BoolVar(&perBlock, "blocks", false, "добавить строку на каждый блок")
	return cmd
}

func buildStats(model *world.Model, report *storage.Report, perBlock bool) statsOutput {
	out := statsOutput{
		Dir:     report.Dir,
		Blocks:  model.BlockCount(),
		Tiles:   model.TileCount(),
		Pixels:  model.Coverage(),
		Failed:  report.Failed(),
		Sources: model.Sources,
	}
	for _, r := range model.Regions() {
		out.Regions = append(out.Regions, r.Label())
	}
	if perBlock {
		out.Summary = model.Summaries()
	}
	for _, f := range report.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	return out
}

func printStats(w io.Writer, s statsOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "каталог:\t%s\n", s.Dir)
	fmt.Fprintf(tw, "блоков:\t%d\n", s.Blocks)
	fmt.Fprintf(tw, "тайлов:\t%d\n", s.Tiles)
	fmt.Fprintf(tw, "пикселей:\t%d\n", s.Pixels)
	fmt.Fprintf(tw, "ошибок:\t%d\n", s.Failed)
	fmt.Fprintf(tw, "регионы:\t%v\n", s.Regions)
	if len(s.Summary) > 0 {
		fmt.Fprintln(tw, "\nблок\tx\ty\tтайлов\tпикселей")
		for _, b := range s.Summary {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", b.Addr, b.X, b.Y, b.TileCount, b.Coverage)
		}
	}
	for _, f := range s.Failures {
		fmt.Fprintf(tw, "ошибка:\t%s\n", f)
	}
	return tw.Flush()
}
