package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
)

// BadgerCache хранит блоки между запусками в BadgerDB.
// Значение: байт исходного формата, затем блок в FormatFramed.
type BadgerCache struct {
	db     *badger.DB
	codec  *codec.Codec
	logger *logging.Logger

	mu      sync.Mutex
	metrics CacheMetrics
}

// BadgerOption настраивает BadgerCache.
type BadgerOption func(*BadgerCache)

// WithBadgerLogger задаёт логгер вместо логгера компонента cache.
func WithBadgerLogger(l *logging.Logger) BadgerOption {
	return func(bc *BadgerCache) { bc.logger = l }
}

// NewBadgerCache открывает кеш в каталоге dir. Пустой dir - база в памяти.
func NewBadgerCache(dir string, c *codec.Codec, opts ...BadgerOption) (*BadgerCache, error) {
	dbOpts := badger.DefaultOptions(dir)
	if dir == "" {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	if c == nil {
		c = codec.New()
	}
	bc := &BadgerCache{db: db, codec: c, logger: logging.GetCacheLogger()}
	for _, opt := range opts {
		opt(bc)
	}
	bc.logger.Debug("открыт кеш BadgerDB в %q", dir)
	return bc, nil
}

func (bc *BadgerCache) Get(ctx context.Context, key Key) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	var raw []byte
	err := bc.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		bc.count(false)
		return Entry{}, ErrCacheMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	if len(raw) < 1 {
		bc.logger.Warn("пустая запись кеша %s", key)
		bc.count(false)
		return Entry{}, ErrCacheMiss
	}

	block, _, err := bc.codec.Decode(raw[1:], address.None)
	if err != nil {
		// Повреждённая запись равносильна промаху, файл будет разобран заново.
		bc.logger.Warn("повреждённая запись кеша %s: %v", key, err)
		bc.count(false)
		return Entry{}, fmt.Errorf("%w: %v", ErrCacheMiss, err)
	}
	bc.count(true)
	return Entry{Block: block, Format: codec.FormatVersion(raw[0])}, nil
}

func (bc *BadgerCache) Put(ctx context.Context, key Key, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := bc.codec.Encode(entry.Block, codec.FormatFramed)
	if err != nil {
		return fmt.Errorf("ошибка сериализации блока: %w", err)
	}
	value := append([]byte{byte(entry.Format)}, data...)

	err = bc.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key.String()), value)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (bc *BadgerCache) Metrics() CacheMetrics {
	bc.mu.Lock()
	m := bc.metrics
	bc.mu.Unlock()

	_ = bc.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte("block:")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			m.TotalKeys++
		}
		return nil
	})
	return m
}

func (bc *BadgerCache) Close() error {
	return bc.db.Close()
}

func (bc *BadgerCache) count(hit bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if hit {
		bc.metrics.Hits++
	} else {
		bc.metrics.Misses++
	}
	bc.metrics.updateRatio()
}
