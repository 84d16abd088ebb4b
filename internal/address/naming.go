package address

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Маски имён файлов в папке Sync. Цифра d номера файла записывается
// символом digitMask[d], две последние цифры ещё раз - через suffixMask.
const (
	digitMask  = "olhwjsktri"
	suffixMask = "eizxdwknmo"
	hashLen    = 4
)

// ErrNameMismatch - имя разобрано, но хеш-префикс или суффикс не совпадают.
// Вместе с этой ошибкой ParseFileName возвращает разобранный адрес.
var ErrNameMismatch = errors.New("file name checksum mismatch")

// FileName возвращает имя файла синхронизации для блока.
func FileName(block TileID) (string, error) {
	fid, err := BlockFileID(block)
	if err != nil {
		return "", err
	}
	return fileNameFor(fid), nil
}

func fileNameFor(fid uint32) string {
	digits := strconv.FormatUint(uint64(fid), 10)
	sum := md5.Sum([]byte(digits))

	var sb strings.Builder
	sb.WriteString(hex.EncodeToString(sum[:])[:hashLen])
	for _, d := range digits {
		sb.WriteByte(digitMask[d-'0'])
	}
	tail := digits
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	for _, d := range tail {
		sb.WriteByte(suffixMask[d-'0'])
	}
	return sb.String()
}

// ParseFileName восстанавливает адрес блока по имени файла.
//
// Имя должно быть устроено как в приложении: четыре hex-символа, цифры
// через digitMask и суффикс через suffixMask, повторяющий последние цифры.
// Иначе возвращается ErrInvalidAddress. Если устройство верное, но не
// совпадает хеш, возвращается адрес вместе с ErrNameMismatch.
func ParseFileName(name string) (TileID, error) {
	if len(name) < hashLen+2 {
		return None, fmt.Errorf("%w: имя %q слишком короткое", ErrInvalidAddress, name)
	}
	prefix, body := name[:hashLen], name[hashLen:]
	if _, err := hex.DecodeString(prefix); err != nil || strings.ToLower(prefix) != prefix {
		return None, fmt.Errorf("%w: префикс %q в имени %q не hex", ErrInvalidAddress, prefix, name)
	}

	// Однозначный номер даёт один символ суффикса, иначе их два.
	n := len(body) - 2
	if len(body) == 2 {
		n = 1
	}
	if n < 2 && len(body) != 2 {
		return None, fmt.Errorf("%w: длина имени %q", ErrInvalidAddress, name)
	}
	middle, suffix := body[:n], body[n:]

	digits := make([]byte, 0, n)
	for _, c := range middle {
		d := strings.IndexRune(digitMask, c)
		if d < 0 {
			return None, fmt.Errorf("%w: символ %q в имени %q", ErrInvalidAddress, c, name)
		}
		digits = append(digits, byte('0'+d))
	}
	if len(digits) > 1 && digits[0] == '0' {
		return None, fmt.Errorf("%w: ведущий ноль в имени %q", ErrInvalidAddress, name)
	}
	tail := digits[len(digits)-len(suffix):]
	for i := range suffix {
		d := strings.IndexByte(suffixMask, suffix[i])
		if d < 0 || byte('0'+d) != tail[i] {
			return None, fmt.Errorf("%w: суффикс %q в имени %q", ErrInvalidAddress, suffix, name)
		}
	}

	fid, err := strconv.ParseUint(string(digits), 10, 32)
	if err != nil || fid >= MapWidth*MapWidth {
		return None, fmt.Errorf("%w: номер файла в имени %q вне карты", ErrInvalidAddress, name)
	}
	block, err := BlockFromFileID(uint32(fid))
	if err != nil {
		return None, err
	}
	if want := fileNameFor(uint32(fid)); want != name {
		return block, fmt.Errorf("%w: %q, ожидалось %q", ErrNameMismatch, name, want)
	}
	return block, nil
}
