package codec

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Ошибки разбора блоков и тайлов.
var (
	ErrCorruptPayload     = errors.New("corrupt payload")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrAddressMismatch    = errors.New("address mismatch")
	ErrTruncatedBlock     = errors.New("truncated block")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
)

// FormatVersion - явный тег формата файла. Ширина полей каждого формата
// фиксирована и выбирается по тегу, а не по содержимому.
type FormatVersion uint8

const (
	FormatUnknown FormatVersion = 0
	// FormatSync - родной файл приложения: zlib(таблица слотов u16 + записи по 515 байт).
	FormatSync FormatVersion = 1
	// FormatFramed - самоописывающий контейнер: заголовок, тайлы с длиной, xxhash-футер.
	FormatFramed FormatVersion = 2
)

func (f FormatVersion) String() string {
	switch f {
	case FormatSync:
		return "sync"
	case FormatFramed:
		return "framed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// ParseFormat разбирает имя формата из конфигурации или флага.
func ParseFormat(s string) (FormatVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sync", "v1":
		return FormatSync, nil
	case "framed", "v2":
		return FormatFramed, nil
	default:
		return FormatUnknown, fmt.Errorf("%w: формат %q", ErrUnsupportedVersion, s)
	}
}

// DetectFormat определяет формат по первым байтам файла.
func DetectFormat(data []byte) FormatVersion {
	if bytes.HasPrefix(data, framedMagic[:]) {
		return FormatFramed
	}
	if isZlibHeader(data) {
		return FormatSync
	}
	return FormatUnknown
}

// RFC 1950: метод 8 (deflate), окно не больше 32K, FCHECK делит заголовок на 31.
func isZlibHeader(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	cmf, flg := data[0], data[1]
	return cmf&0x0f == 8 && cmf>>4 <= 7 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}
