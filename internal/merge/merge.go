// Package merge объединяет снимки карты, синхронизированные независимо.
//
// Объединение - поэлементное ИЛИ пикселей по всем тайлам всех блоков.
// Операция ассоциативна, коммутативна и идемпотентна, а входные модели
// никогда не изменяются.
package merge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/bitmap"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/metrics"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// ErrIncompatibleModel - у тайлов входных моделей разные размеры плоскостей.
var ErrIncompatibleModel = errors.New("incompatible model")

// Merge объединяет модели последовательно. Пустой вход даёт пустую модель.
//
// Все тайлы всех входов должны иметь плоскости одного размера, даже если
// их адреса не пересекаются.
func Merge(models ...*world.Model) (*world.Model, error) {
	out := world.NewModel()
	var shape *world.Tile
	for _, m := range models {
		if err := checkShapes(m, &shape); err != nil {
			return nil, err
		}
		if err := mergeInto(out, m); err != nil {
			return nil, err
		}
	}
	out.SortSources()
	return out, nil
}

// checkShapes сверяет плоскости m с первым встреченным тайлом.
func checkShapes(m *world.Model, first **world.Tile) error {
	if m == nil {
		return nil
	}
	for b := range m.Blocks() {
		for t := range b.Tiles() {
			if *first == nil {
				*first = t
				continue
			}
			if !(*first).Plane.SameShape(t.Plane) {
				return fmt.Errorf("%w: тайл %s (%s) и тайл %s (%s): %w",
					ErrIncompatibleModel, t.ID, t.Plane, (*first).ID, (*first).Plane, bitmap.ErrDimensionMismatch)
			}
		}
	}
	return nil
}

// MergeParallel объединяет модели попарным деревом на workers горутинах.
// Результат совпадает с Merge.
func MergeParallel(ctx context.Context, workers int, models ...*world.Model) (*world.Model, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if len(models) <= 2 || workers == 1 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Merge(models...)
	}

	level := models
	for len(level) > 1 {
		next := make([]*world.Model, (len(level)+1)/2)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := range next {
			left := level[2*i]
			if 2*i+1 == len(level) {
				next[i] = left
				continue
			}
			right := level[2*i+1]
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				m, err := Merge(left, right)
				if err != nil {
					return err
				}
				next[i] = m
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		level = next
	}
	return level[0], nil
}

func mergeInto(dst, src *world.Model) error {
	if src == nil {
		return nil
	}
	for b := range src.Blocks() {
		have, ok := dst.Block(b.Addr)
		if !ok {
			if err := dst.Insert(b.Clone()); err != nil {
				return err
			}
			continue
		}
		if err := mergeBlock(have, b); err != nil {
			return err
		}
	}
	dst.Sources = append(dst.Sources, src.Sources...)
	return nil
}

// mergeBlock добавляет тайлы src в dst. dst принадлежит результату слияния.
func mergeBlock(dst, src *world.Block) error {
	for t := range src.Tiles() {
		have, ok := dst.Tile(t.ID)
		if !ok {
			if err := dst.Put(t.Clone()); err != nil {
				return err
			}
			continue
		}
		if err := have.Plane.UnionInPlace(t.Plane); err != nil {
			return fmt.Errorf("%w: тайл %s: %w", ErrIncompatibleModel, t.ID, err)
		}
		have.Region = world.PreferRegion(have.Region, t.Region)
	}
	return nil
}

// Engine объединяет снимки с логированием и метриками.
type Engine struct {
	workers int
	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option настраивает Engine.
type Option func(*Engine)

// WithWorkers задаёт число горутин для попарного слияния.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger задаёт логгер.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine создаёт движок слияния.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{logger: logging.GetMergeLogger()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Merge объединяет модели и пишет длительность в метрики.
func (e *Engine) Merge(ctx context.Context, models ...*world.Model) (*world.Model, error) {
	start := time.Now()
	out, err := MergeParallel(ctx, e.workers, models...)
	if err != nil {
		e.logger.Error("слияние %d снимков не удалось: %v", len(models), err)
		return nil, err
	}
	e.metrics.ObserveMerge(start)
	e.logger.Info("слито %d снимков: %d блоков, %d тайлов за %s",
		len(models), out.BlockCount(), out.TileCount(), time.Since(start).Round(time.Millisecond))
	return out, nil
}
