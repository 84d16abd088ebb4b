// Package storage читает и пишет каталоги снимков Fog of World.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/cache"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/metrics"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// SyncDirName - подкаталог, в который приложение складывает файлы блоков.
const SyncDirName = "Sync"

// Store - каталог снимка на диске.
type Store struct {
	dir         string
	codec       *codec.Codec
	cache       cache.BlockCache
	workers     int
	strictNames bool
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Option настраивает Store.
type Option func(*Store)

// WithCodec задаёт кодек.
func WithCodec(c *codec.Codec) Option {
	return func(s *Store) { s.codec = c }
}

// WithCache подключает кеш разобранных блоков. Кешем владеет вызывающий.
func WithCache(c cache.BlockCache) Option {
	return func(s *Store) { s.cache = c }
}

// WithWorkers ограничивает число одновременно разбираемых файлов.
func WithWorkers(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithStrictNames требует совпадения хеша в имени файла с номером блока.
// Без него несовпадение только логируется.
func WithStrictNames(strict bool) Option {
	return func(s *Store) { s.strictNames = strict }
}

// WithLogger задаёт логгер.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore открывает каталог снимка. Если в нём есть подкаталог Sync,
// используется он. Существование каталога проверяется при чтении.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{
		dir:     resolveDir(dir),
		workers: runtime.GOMAXPROCS(0),
		logger:  logging.GetStorageLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec == nil {
		s.codec = codec.New(codec.WithLogger(s.logger))
	}
	return s
}

func resolveDir(dir string) string {
	if filepath.Base(filepath.Clean(dir)) == SyncDirName {
		return dir
	}
	sub := filepath.Join(dir, SyncDirName)
	if info, err := os.Stat(sub); err == nil && info.IsDir() {
		return sub
	}
	return dir
}

// Dir возвращает каталог с файлами блоков.
func (s *Store) Dir() string { return s.dir }

// Files перечисляет файлы блоков в порядке имён. Подкаталоги и скрытые
// файлы пропускаются.
func (s *Store) Files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: чтение каталога %s: %w", ErrIOFailure, s.dir, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(s.dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// Result - итог разбора одного файла. Ровно одно из Block и Err не nil.
type Result struct {
	Path   string
	Block  *world.Block
	Format codec.FormatVersion
	Cached bool
	Err    error
}

// Results лениво разбирает файлы пулом из workers горутин и отдаёт
// результаты в порядке имён. Ошибка одного файла не останавливает остальные.
// Если потребитель прекращает перебор, оставшаяся работа отменяется
// и все горутины завершаются до возврата.
func (s *Store) Results(ctx context.Context) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		files, err := s.Files()
		if err != nil {
			yield(Result{Path: s.dir, Err: err})
			return
		}
		if len(files) == 0 {
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		slots := make([]chan Result, len(files))
		for i := range slots {
			slots[i] = make(chan Result, 1)
		}
		// Окно ограничивает число разобранных, но ещё не отданных блоков.
		// Жетон берётся до номера файла, поэтому младший ожидаемый файл
		// всегда уже в работе.
		window := make(chan struct{}, 2*s.workers)
		var next atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < min(s.workers, len(files)); w++ {
			g.Go(func() error {
				for {
					select {
					case window <- struct{}{}:
					case <-gctx.Done():
						return nil
					}
					i := int(next.Add(1)) - 1
					if i >= len(files) {
						<-window
						return nil
					}
					slots[i] <- s.DecodeFile(gctx, files[i])
				}
			})
		}
		defer g.Wait()

		for i := range files {
			var r Result
			select {
			case r = <-slots[i]:
				<-window
			case <-ctx.Done():
				r = Result{Path: files[i], Err: &DecodeError{Path: files[i], Err: ctx.Err()}}
			}
			if !yield(r) || errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
				cancel()
				return
			}
		}
	}
}

// DecodeFile разбирает один файл блока. Адрес берётся из имени файла.
func (s *Store) DecodeFile(ctx context.Context, path string) Result {
	r := s.decodeFile(ctx, path)
	if r.Err != nil {
		r.Err = &DecodeError{Path: path, Err: r.Err}
		s.metrics.BlockFailed(Reason(r.Err))
		s.logger.Warn("не удалось разобрать %s: %v", path, r.Err)
		return r
	}
	s.metrics.BlockDecoded(r.Block.Len())
	return r
}

func (s *Store) decodeFile(ctx context.Context, path string) Result {
	r := Result{Path: path}
	if err := ctx.Err(); err != nil {
		r.Err = err
		return r
	}

	addr, err := address.ParseFileName(filepath.Base(path))
	switch {
	case err == nil:
	case errors.Is(err, address.ErrNameMismatch):
		if s.strictNames {
			r.Err = fmt.Errorf("%w: %w", codec.ErrAddressMismatch, err)
			return r
		}
		s.logger.Warn("имя файла %s не совпадает с хешем: %v", path, err)
	default:
		// Имя не из папки Sync: адрес берётся из заголовка контейнера.
		addr = address.None
	}

	info, err := os.Stat(path)
	if err != nil {
		r.Err = fmt.Errorf("%w: %w", ErrIOFailure, err)
		return r
	}
	key := cache.KeyFor(path, info, s.codec)
	if s.cache != nil {
		entry, err := s.cache.Get(ctx, key)
		if err == nil {
			s.metrics.CacheHit()
			r.Block, r.Format, r.Cached = entry.Block, entry.Format, true
			return r
		}
		if !cache.IsCacheMiss(err) {
			s.logger.Warn("ошибка кеша для %s: %v", path, err)
		}
		s.metrics.CacheMiss()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		r.Err = fmt.Errorf("%w: %w", ErrIOFailure, err)
		return r
	}
	block, format, err := s.codec.Decode(data, addr)
	if err != nil {
		r.Err = err
		return r
	}
	r.Block, r.Format = block, format

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, cache.Entry{Block: block, Format: format}); err != nil {
			s.logger.Warn("не удалось закешировать %s: %v", path, err)
		}
	}
	return r
}

// Report - сводка загрузки каталога.
type Report struct {
	Dir      string         `json:"dir"`
	Total    int            `json:"total"`
	Decoded  int            `json:"decoded"`
	Cached   int            `json:"cached"`
	Failures []*DecodeError `json:"-"`
}

// Failed возвращает число файлов, которые не удалось разобрать.
func (r *Report) Failed() int { return len(r.Failures) }

// Load собирает модель из всех файлов каталога. Испорченные файлы попадают
// в Report.Failures и не мешают остальным. Ошибка возвращается только при
// отмене ctx или если каталог нельзя прочитать.
func (s *Store) Load(ctx context.Context) (*world.Model, *Report, error) {
	files, err := s.Files()
	if err != nil {
		return nil, nil, err
	}
	report := &Report{Dir: s.dir}
	model := world.NewModel()

	formats := make(map[codec.FormatVersion]int)
	for r := range s.Results(ctx) {
		report.Total++
		if r.Err != nil {
			if errors.Is(r.Err, context.Canceled) || errors.Is(r.Err, context.DeadlineExceeded) {
				return nil, report, r.Err
			}
			var de *DecodeError
			if !errors.As(r.Err, &de) {
				de = &DecodeError{Path: r.Path, Err: r.Err}
			}
			report.Failures = append(report.Failures, de)
			continue
		}
		if err := model.Insert(r.Block); err != nil {
			s.metrics.BlockFailed(Reason(err))
			report.Failures = append(report.Failures, &DecodeError{Path: r.Path, Err: err})
			continue
		}
		report.Decoded++
		if r.Cached {
			report.Cached++
		}
		formats[r.Format]++
	}
	if err := ctx.Err(); err != nil {
		return nil, report, err
	}

	src := world.SnapshotSource{ID: uuid.NewString(), Path: s.dir, Format: dominantFormat(formats).String()}
	if info, err := os.Stat(s.dir); err == nil {
		src.ModTime = info.ModTime()
	}
	model.Sources = []world.SnapshotSource{src}

	s.logger.Info("загружено %d из %d файлов (%d из кеша, %d ошибок) из %s",
		report.Decoded, len(files), report.Cached, report.Failed(), s.dir)
	return model, report, nil
}

func dominantFormat(counts map[codec.FormatVersion]int) codec.FormatVersion {
	best, n := codec.FormatSync, 0
	for _, f := range []codec.FormatVersion{codec.FormatSync, codec.FormatFramed} {
		if counts[f] > n {
			best, n = f, counts[f]
		}
	}
	return best
}

// Save пишет по файлу на каждый блок модели. Имена файлов строятся так же,
// как в приложении. Каждый файл пишется во временный и атомарно переименовывается.
// Файлы блоков, которых нет в модели, после записи удаляются, чтобы
// каталог содержал ровно модель.
func (s *Store) Save(ctx context.Context, model *world.Model, format codec.FormatVersion) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: не удалось создать директорию %s: %w", ErrIOFailure, s.dir, err)
	}
	written := make(map[string]struct{}, model.BlockCount())
	for b := range model.Blocks() {
		name, err := address.FileName(b.Addr)
		if err != nil {
			return err
		}
		written[name] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for b := range model.Blocks() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return s.saveBlock(gctx, b, format)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	removed, err := s.removeStale(written)
	if err != nil {
		return err
	}
	s.logger.Info("записано %d блоков в %s (%s), удалено устаревших: %d",
		model.BlockCount(), s.dir, format, removed)
	return nil
}

// removeStale удаляет файлы блоков, не попавшие в keep. Посторонние файлы
// не трогаются.
func (s *Store) removeStale(keep map[string]struct{}) (int, error) {
	files, err := s.Files()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		name := filepath.Base(path)
		if _, ok := keep[name]; ok {
			continue
		}
		if _, err := address.ParseFileName(name); err != nil && !errors.Is(err, address.ErrNameMismatch) {
			continue
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("%w: удаление %s: %w", ErrIOFailure, path, err)
		}
		s.logger.Debug("удалён устаревший файл блока %s", path)
		removed++
	}
	return removed, nil
}

func (s *Store) saveBlock(ctx context.Context, b *world.Block, format codec.FormatVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := address.FileName(b.Addr)
	if err != nil {
		return err
	}
	data, err := s.codec.Encode(b, format)
	if err != nil {
		return fmt.Errorf("блок %s: %w", b.Addr, err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return err
	}
	s.metrics.BlockWritten()
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: запись %s: %w", ErrIOFailure, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Chmod(tmp.Name(), fs.FileMode(0o644)); err != nil {
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: переименование в %s: %w", ErrIOFailure, path, err)
	}
	return nil
}
