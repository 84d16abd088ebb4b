// Package app - точки входа библиотеки: загрузка, слияние и запись снимков.
package app

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/cache"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/merge"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/metrics"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/storage"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

type options struct {
	codec       *codec.Codec
	cache       cache.BlockCache
	workers     int
	strictNames bool
	format      codec.FormatVersion
	metrics     *metrics.Metrics
	logger      *logging.Logger
}

// Option настраивает точки входа.
type Option func(*options)

// WithCodec задаёт кодек, в том числе канонический режим записи.
func WithCodec(c *codec.Codec) Option { return func(o *options) { o.codec = c } }

// WithCache подключает кеш разобранных блоков.
func WithCache(c cache.BlockCache) Option { return func(o *options) { o.cache = c } }

// WithWorkers ограничивает параллелизм разбора и слияния.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// WithStrictNames требует точного совпадения имён файлов.
func WithStrictNames(strict bool) Option { return func(o *options) { o.strictNames = strict } }

// WithFormat задаёт формат записи для SaveSnapshot.
func WithFormat(f codec.FormatVersion) Option { return func(o *options) { o.format = f } }

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithLogger задаёт логгер.
func WithLogger(l *logging.Logger) Option { return func(o *options) { o.logger = l } }

func buildOptions(opts []Option) *options {
	o := &options{
		workers: runtime.GOMAXPROCS(0),
		format:  codec.FormatSync,
		logger:  logging.GetStorageLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.codec == nil {
		o.codec = codec.New(codec.WithLogger(logging.GetCodecLogger()))
	}
	return o
}

func (o *options) store(path string) *storage.Store {
	return storage.NewStore(path,
		storage.WithCodec(o.codec),
		storage.WithCache(o.cache),
		storage.WithWorkers(o.workers),
		storage.WithStrictNames(o.strictNames),
		storage.WithLogger(o.logger),
		storage.WithMetrics(o.metrics),
	)
}

// LoadSnapshot загружает каталог снимка. Испорченные файлы перечислены
// в отчёте и не мешают загрузке остальных.
func LoadSnapshot(ctx context.Context, path string, opts ...Option) (*world.Model, *storage.Report, error) {
	return buildOptions(opts).store(path).Load(ctx)
}

// loadLimit - сколько снимков разбирать одновременно.
func loadLimit(workers, snapshots int) int {
	return max(1, min(workers, snapshots))
}

// MergeSnapshots загружает несколько снимков и объединяет их.
// Отчёты возвращаются в порядке paths.
func MergeSnapshots(ctx context.Context, paths []string, opts ...Option) (*world.Model, []*storage.Report, error) {
	o := buildOptions(opts)

	models := make([]*world.Model, len(paths))
	reports := make([]*storage.Report, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadLimit(o.workers, len(paths)))
	for i, path := range paths {
		g.Go(func() error {
			m, r, err := o.store(path).Load(gctx)
			if err != nil {
				return err
			}
			models[i], reports[i] = m, r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, reports, err
	}

	engine := merge.NewEngine(
		merge.WithWorkers(o.workers),
		merge.WithMetrics(o.metrics),
		merge.WithLogger(logging.GetMergeLogger()),
	)
	out, err := engine.Merge(ctx, models...)
	if err != nil {
		return nil, reports, err
	}
	return out, reports, nil
}

// SaveSnapshot пишет модель в каталог path в формате из WithFormat.
func SaveSnapshot(ctx context.Context, model *world.Model, path string, opts ...Option) error {
	o := buildOptions(opts)
	return o.store(path).Save(ctx, model, o.format)
}
