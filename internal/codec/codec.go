// Package codec разбирает и собирает файлы синхронизации Fog of World.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// Уровни сжатия. Канонический режим всегда использует один и тот же уровень,
// поэтому одинаковые данные дают одинаковые байты.
const (
	canonicalLevel = zlib.BestCompression
	fastLevel      = zlib.BestSpeed
)

// Codec кодирует тайлы и блоки. Безопасен для конкурентного использования.
type Codec struct {
	canonical       bool
	verifyChecksums bool
	logger          *logging.Logger

	writers sync.Pool
}

// Option настраивает Codec.
type Option func(*Codec)

// WithCanonical включает детерминированное кодирование.
func WithCanonical(canonical bool) Option {
	return func(c *Codec) { c.canonical = canonical }
}

// WithVerifyChecksums включает строгую проверку контрольных сумм записей
// родного формата. Без неё несовпадение только логируется, как в приложении.
func WithVerifyChecksums(verify bool) Option {
	return func(c *Codec) { c.verifyChecksums = verify }
}

// WithLogger задаёт логгер.
func WithLogger(l *logging.Logger) Option {
	return func(c *Codec) { c.logger = l }
}

// New создаёт кодек. По умолчанию канонический режим и строгие контрольные суммы.
func New(opts ...Option) *Codec {
	c := &Codec{
		canonical:       true,
		verifyChecksums: true,
		logger:          logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	level := fastLevel
	if c.canonical {
		level = canonicalLevel
	}
	c.writers.New = func() interface{} {
		w, _ := zlib.NewWriterLevel(io.Discard, level)
		return w
	}
	return c
}

// Canonical сообщает, включён ли детерминированный режим.
func (c *Codec) Canonical() bool { return c.canonical }

// VerifyChecksums сообщает, отвергает ли кодек записи с неверной суммой.
func (c *Codec) VerifyChecksums() bool { return c.verifyChecksums }

// Decode разбирает файл блока. addr - адрес из имени файла или address.None,
// если имя неизвестно; для родного формата адрес обязателен.
func (c *Codec) Decode(data []byte, addr address.TileID) (*world.Block, FormatVersion, error) {
	switch f := DetectFormat(data); f {
	case FormatSync:
		b, err := c.DecodeSync(data, addr)
		return b, f, err
	case FormatFramed:
		b, err := c.DecodeFramed(data, addr)
		return b, f, err
	default:
		if len(data) < 2 {
			return nil, f, fmt.Errorf("%w: файл короче заголовка", ErrTruncatedBlock)
		}
		return nil, f, fmt.Errorf("%w: неизвестная сигнатура %#x", ErrUnsupportedVersion, data[:2])
	}
}

// Encode собирает файл блока в заданном формате.
func (c *Codec) Encode(b *world.Block, f FormatVersion) ([]byte, error) {
	switch f {
	case FormatSync:
		return c.EncodeSync(b)
	case FormatFramed:
		return c.EncodeFramed(b)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, f)
	}
}

func (c *Codec) deflate(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.writers.Get().(*zlib.Writer)
	defer c.writers.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("ошибка сжатия: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ошибка сжатия: %w", err)
	}
	return buf.Bytes(), nil
}

// inflate распаковывает zlib-поток, читая не больше limit байт.
func inflate(data []byte, limit int) ([]byte, error) {
	raw, _, err := inflateTail(data, limit)
	return raw, err
}

// inflateTail как inflate, но ещё сообщает число байт после конца zlib-потока.
func inflateTail(data []byte, limit int) ([]byte, int, error) {
	br := bytes.NewReader(data)
	r, err := zlib.NewReader(br)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	defer r.Close()

	raw, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if len(raw) > limit {
		return nil, 0, fmt.Errorf("%w: распакованный размер больше %d", ErrCorruptPayload, limit)
	}
	return raw, br.Len(), nil
}
