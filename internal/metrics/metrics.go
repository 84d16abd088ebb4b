// Package metrics экспортирует Prometheus-метрики загрузки, кеша и слияния.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
)

const namespace = "fogmap"

// Metrics хранит счётчики конвейера. Нулевой указатель допустим:
// все методы на nil ничего не делают, поэтому метрики можно не подключать.
type Metrics struct {
	registry prometheus.Gatherer

	blocksDecoded prometheus.Counter
	blocksFailed  *prometheus.CounterVec
	tilesDecoded  prometheus.Counter
	blocksWritten prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	mergeDuration prometheus.Histogram
}

// New создаёт метрики и регистрирует их в reg. Если reg == nil, заводится
// собственный реестр, чтобы не трогать глобальный.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		blocksDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_decoded_total",
			Help:      "Блоков, успешно разобранных из файлов.",
		}),
		blocksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_failed_total",
			Help:      "Файлов блоков, которые не удалось разобрать, по причине.",
		}, []string{"reason"}),
		tilesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_decoded_total",
			Help:      "Тайлов в разобранных блоках.",
		}),
		blocksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_written_total",
			Help:      "Блоков, записанных на диск.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Попаданий в кеш разобранных блоков.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Промахов кеша разобранных блоков.",
		}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "merge_duration_seconds",
			Help:      "Длительность слияния снимков.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}

	for _, c := range []prometheus.Collector{
		m.blocksDecoded, m.blocksFailed, m.tilesDecoded, m.blocksWritten,
		m.cacheHits, m.cacheMisses, m.mergeDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// BlockDecoded учитывает разобранный блок и число его тайлов.
func (m *Metrics) BlockDecoded(tiles int) {
	if m == nil {
		return
	}
	m.blocksDecoded.Inc()
	m.tilesDecoded.Add(float64(tiles))
}

// BlockFailed учитывает файл, который не удалось разобрать.
func (m *Metrics) BlockFailed(reason string) {
	if m == nil {
		return
	}
	m.blocksFailed.WithLabelValues(reason).Inc()
}

// BlockWritten учитывает записанный файл блока.
func (m *Metrics) BlockWritten() {
	if m == nil {
		return
	}
	m.blocksWritten.Inc()
}

// CacheHit учитывает попадание в кеш.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// CacheMiss учитывает промах кеша.
func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

// ObserveMerge записывает длительность слияния, начатого в start.
func (m *Metrics) ObserveMerge(start time.Time) {
	if m == nil {
		return
	}
	m.mergeDuration.Observe(time.Since(start).Seconds())
}

// Handler отдаёт метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve поднимает /metrics на addr и блокируется до отмены ctx.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	logger := logging.GetComponentLogger("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Ошибка Prometheus HTTP сервера: %v", err)
		return err
	}
}
