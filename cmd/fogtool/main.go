// Command fogtool читает, проверяет и объединяет снимки Fog of World.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/app"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/config"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/metrics"
)

// cli - состояние одного запуска: конфигурация и собранные зависимости.
type cli struct {
	configPath  string
	logLevel    string
	metricsAddr string
	workers     int

	cfg     *config.Config
	runtime *app.Runtime
	logger  *logging.Logger
	stop    context.CancelFunc
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:           "fogtool",
		Short:         "Инструменты для данных синхронизации Fog of World",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML-конфиг (по умолчанию $FOG_CONFIG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "уровень логов: trace, debug, info, warn, error")
	root.PersistentFlags().StringVar(&c.metricsAddr, "metrics-addr", "", "адрес для Prometheus /metrics, например :2112")
	root.PersistentFlags().IntVarP(&c.workers, "workers", "w", 0, "число воркеров разбора")

	root.AddCommand(newStatsCmd(c), newVerifyCmd(c), newMergeCmd(c))
	return root, c
}

func (c *cli) setup(ctx context.Context) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.workers > 0 {
		cfg.Store.Workers = c.workers
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = c.metricsAddr
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.GetComponentLogger("fogtool")

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m, err = metrics.New(prometheus.NewRegistry())
		if err != nil {
			return err
		}
		mctx, stop := context.WithCancel(ctx)
		c.stop = stop
		go func() {
			if err := m.Serve(mctx, cfg.Metrics.GetAddr()); err != nil {
				c.logger.Error("метрики недоступны: %v", err)
			}
		}()
	}

	rt, err := app.FromConfig(cfg, m)
	if err != nil {
		return err
	}
	c.runtime = rt
	return nil
}

func (c *cli) teardown() error {
	if c.stop != nil {
		c.stop()
	}
	var err error
	if c.runtime != nil {
		err = c.runtime.Close()
	}
	_ = logging.GetLoggerManager().SyncAll()
	return err
}

func (c *cli) options() []app.Option {
	return slices.Clone(c.runtime.Options)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root, c := newRootCmd()
	err := root.ExecuteContext(ctx)
	if cerr := c.teardown(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
