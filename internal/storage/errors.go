package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// ErrIOFailure оборачивает ошибки файловой системы.
var ErrIOFailure = errors.New("i/o failure")

// DecodeError - ошибка разбора одного файла снимка. Остальные файлы
// при этом продолжают разбираться.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Reason сводит ошибку к короткой метке для метрик и отчётов.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, ErrIOFailure):
		return "io"
	case errors.Is(err, codec.ErrChecksumMismatch):
		return "checksum"
	case errors.Is(err, codec.ErrTruncatedBlock):
		return "truncated"
	case errors.Is(err, codec.ErrUnsupportedVersion):
		return "version"
	case errors.Is(err, codec.ErrAddressMismatch):
		return "address"
	case errors.Is(err, codec.ErrCorruptPayload):
		return "corrupt"
	case errors.Is(err, world.ErrDuplicateBlock):
		return "duplicate"
	default:
		return "other"
	}
}
