// Package cache хранит уже разобранные блоки, чтобы повторная загрузка
// неизменившихся файлов не требовала распаковки.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// BlockCache определяет интерфейс кеша разобранных блоков.
//
// Использование:
//
//	c := cache.NewMemoryCache(1024)
//	entry, err := c.Get(ctx, key)
//	err = c.Put(ctx, key, entry)
type BlockCache interface {
	// Get возвращает копию блока. Возвращает ErrCacheMiss если ключ не найден.
	Get(ctx context.Context, key Key) (Entry, error)

	// Put сохраняет копию блока.
	Put(ctx context.Context, key Key, entry Entry) error

	// Metrics возвращает счётчики кеша.
	Metrics() CacheMetrics

	// Close освобождает ресурсы кеша.
	Close() error
}

// Key однозначно задаёт содержимое файла: путь, время изменения и размер.
// Изменение любого из полей делает старую запись недостижимой.
//
// Lenient отмечает блоки, разобранные без строгой проверки контрольных
// сумм. Такие записи не видны строгому кодеку.
type Key struct {
	Path    string
	ModTime time.Time
	Size    int64
	Lenient bool
}

// KeyFor строит ключ по сведениям о файле и режиму кодека.
func KeyFor(path string, info os.FileInfo, c *codec.Codec) Key {
	return Key{
		Path:    path,
		ModTime: info.ModTime(),
		Size:    info.Size(),
		Lenient: !c.VerifyChecksums(),
	}
}

func (k Key) String() string {
	s := fmt.Sprintf("block:%s:%d:%d", k.Path, k.ModTime.UnixNano(), k.Size)
	if k.Lenient {
		s += ":lenient"
	}
	return s
}

// Entry - закешированный блок и формат файла, из которого он получен.
type Entry struct {
	Block  *world.Block
	Format codec.FormatVersion
}

// CacheMetrics содержит метрики кеша.
type CacheMetrics struct {
	Hits      int64   `json:"cache_hits"`
	Misses    int64   `json:"cache_misses"`
	HitRatio  float64 `json:"hit_ratio"`
	TotalKeys int64   `json:"total_keys"`
}

func (m *CacheMetrics) updateRatio() {
	if total := m.Hits + m.Misses; total > 0 {
		m.HitRatio = float64(m.Hits) / float64(total)
	}
}

// Config выбирает реализацию кеша.
type Config struct {
	// Kind: "memory", "badger" или "none".
	Kind     string `yaml:"kind"`
	Capacity int    `yaml:"capacity"`
	Dir      string `yaml:"dir"`
}

// Ошибки кеша
var (
	ErrCacheMiss   = errors.New("cache miss")
	ErrCacheClosed = errors.New("cache closed")
)

// IsCacheMiss проверяет, является ли ошибка промахом кеша.
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Open создаёт кеш по конфигурации. Для Kind "none" или пустого возвращает nil.
func Open(cfg Config, c *codec.Codec) (BlockCache, error) {
	switch cfg.Kind {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryCache(cfg.Capacity), nil
	case "badger":
		return NewBadgerCache(cfg.Dir, c)
	default:
		return nil, fmt.Errorf("неизвестный тип кеша %q", cfg.Kind)
	}
}
