package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// Раскладка FormatFramed (все числа little-endian):
//
//	magic "FOWB" | version u8 | block TileID u64 | count u16
//	count x ( slot u16 | region [2]byte | len u16 | zlib payload )
//	xxhash64 всего предыдущего u64
var framedMagic = [4]byte{'F', 'O', 'W', 'B'}

type framedEntry struct {
	slot    int
	region  world.Region
	payload []byte
}

const (
	framedVersion    = 2
	framedHeaderSize = 4 + 1 + 8 + 2
	framedTileHeader = 2 + 2 + 2
	framedFooterSize = 8
)

// DecodeFramed разбирает контейнер FormatFramed. Если addr задан,
// он должен совпасть с адресом в заголовке.
func (c *Codec) DecodeFramed(data []byte, addr address.TileID) (*world.Block, error) {
	if len(data) < framedHeaderSize+framedFooterSize {
		return nil, fmt.Errorf("%w: %d байт меньше заголовка", ErrTruncatedBlock, len(data))
	}
	if [4]byte(data[:4]) != framedMagic {
		return nil, fmt.Errorf("%w: нет сигнатуры %q", ErrUnsupportedVersion, framedMagic[:])
	}
	if v := data[4]; v != framedVersion {
		return nil, fmt.Errorf("%w: версия %d", ErrUnsupportedVersion, v)
	}

	declared := address.TileID(binary.LittleEndian.Uint64(data[5:]))
	if addr != address.None && declared != addr {
		return nil, fmt.Errorf("%w: в заголовке %s, в имени файла %s", ErrAddressMismatch, declared, addr)
	}
	block, err := world.NewBlock(declared)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
	}
	count := int(binary.LittleEndian.Uint16(data[13:]))

	body := data[:len(data)-framedFooterSize]
	entries := make([]framedEntry, 0, count)
	pos := framedHeaderSize
	for i := 0; i < count; i++ {
		if len(body)-pos < framedTileHeader {
			return nil, fmt.Errorf("%w: заголовок тайла %d из %d обрезан", ErrTruncatedBlock, i, count)
		}
		e := framedEntry{
			slot:   int(binary.LittleEndian.Uint16(body[pos:])),
			region: decodeFramedRegion(body[pos+2 : pos+4]),
		}
		size := int(binary.LittleEndian.Uint16(body[pos+4:]))
		pos += framedTileHeader
		if len(body)-pos < size {
			return nil, fmt.Errorf("%w: тайл %d требует %d байт, осталось %d", ErrTruncatedBlock, i, size, len(body)-pos)
		}
		e.payload = body[pos : pos+size]
		pos += size
		entries = append(entries, e)
	}
	if pos != len(body) {
		return nil, fmt.Errorf("%w: %d лишних байт перед футером", ErrTruncatedBlock, len(body)-pos)
	}

	stored := binary.LittleEndian.Uint64(data[len(body):])
	if sum := xxhash.Sum64(body); sum != stored {
		return nil, fmt.Errorf("%w: футер %#x, вычислено %#x", ErrChecksumMismatch, stored, sum)
	}

	for _, e := range entries {
		id, err := address.TileAt(declared, e.slot)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
		}
		plane, err := c.DecodeTile(e.payload)
		if err != nil {
			return nil, fmt.Errorf("тайл %s: %w", id, err)
		}
		if err := block.Put(&world.Tile{ID: id, Region: e.region, Plane: plane}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
		}
	}
	return block, nil
}

// EncodeFramed собирает контейнер FormatFramed. Тайлы идут в порядке TileID.
func (c *Codec) EncodeFramed(b *world.Block) ([]byte, error) {
	if b.Addr.Zoom() != address.BlockZoom || !b.Addr.Valid() {
		return nil, fmt.Errorf("%w: %s не блок", ErrAddressMismatch, b.Addr)
	}
	if b.Len() > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d тайлов", ErrCorruptPayload, b.Len())
	}

	buf := make([]byte, 0, framedHeaderSize+b.Len()*(framedTileHeader+64)+framedFooterSize)
	buf = append(buf, framedMagic[:]...)
	buf = append(buf, framedVersion)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Addr))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(b.Len()))

	for t := range b.Tiles() {
		slot, err := address.Slot(t.ID)
		if err != nil {
			return nil, err
		}
		region, err := encodeFramedRegion(t.Region)
		if err != nil {
			return nil, err
		}
		payload, err := c.EncodeTile(t.Plane)
		if err != nil {
			return nil, fmt.Errorf("тайл %s: %w", t.ID, err)
		}
		if len(payload) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: тайл %s сжат в %d байт", ErrCorruptPayload, t.ID, len(payload))
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(slot))
		buf = append(buf, region[:]...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
		buf = append(buf, payload...)
	}
	return binary.LittleEndian.AppendUint64(buf, xxhash.Sum64(buf)), nil
}

func decodeFramedRegion(b []byte) world.Region {
	if b[0] == 0 && b[1] == 0 {
		return ""
	}
	return world.Region(b[:2])
}

func encodeFramedRegion(r world.Region) ([2]byte, error) {
	var out [2]byte
	switch len(r) {
	case 0:
		return out, nil
	case 2:
		copy(out[:], r)
		return out, nil
	default:
		return out, fmt.Errorf("%w: регион %q не из двух букв", ErrCorruptPayload, r)
	}
}
