package app

import (
	"fmt"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/cache"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/config"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/metrics"
)

// Runtime - собранные по конфигурации зависимости. Close освобождает кеш.
type Runtime struct {
	Codec   *codec.Codec
	Cache   cache.BlockCache
	Format  codec.FormatVersion
	Metrics *metrics.Metrics
	Options []Option
}

// FromConfig собирает кодек, кеш и опции точек входа по конфигурации.
// m может быть nil, если метрики не нужны.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*Runtime, error) {
	format, err := codec.ParseFormat(cfg.Codec.GetFormat())
	if err != nil {
		return nil, err
	}
	c := codec.New(
		codec.WithCanonical(cfg.Codec.GetCanonical()),
		codec.WithVerifyChecksums(cfg.Store.GetVerifyChecksums()),
		codec.WithLogger(logging.GetCodecLogger()),
	)
	bc, err := cache.Open(cfg.Cache, c)
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации кеша: %w", err)
	}

	rt := &Runtime{Codec: c, Cache: bc, Format: format, Metrics: m}
	rt.Options = []Option{
		WithCodec(c),
		WithFormat(format),
		WithStrictNames(cfg.Store.StrictNames),
		WithMetrics(m),
	}
	if bc != nil {
		rt.Options = append(rt.Options, WithCache(bc))
	}
	if w := cfg.Store.GetWorkers(); w > 0 {
		rt.Options = append(rt.Options, WithWorkers(w))
	}
	return rt, nil
}

// Close закрывает кеш, если он был открыт.
func (rt *Runtime) Close() error {
	if rt.Cache == nil {
		return nil
	}
	return rt.Cache.Close()
}
