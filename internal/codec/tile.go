package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/bitmap"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

const (
	// PlaneBytes - размер битмапа 64x64.
	PlaneBytes = address.TileWidth * address.TileWidth / 8
	// RecordExtra - байты региона и контрольной суммы в записи родного формата.
	RecordExtra = 3
	// RecordSize - запись тайла родного формата.
	RecordSize = PlaneBytes + RecordExtra

	regionBase   = '?'
	regionBits   = 5
	checksumMask = 0x3FFF
)

// DecodeTile распаковывает сжатый битмап тайла.
func (c *Codec) DecodeTile(payload []byte) (*bitmap.Plane, error) {
	raw, err := inflate(payload, PlaneBytes)
	if err != nil {
		return nil, err
	}
	if len(raw) != PlaneBytes {
		return nil, fmt.Errorf("%w: битмап %d байт, ожидалось %d", ErrCorruptPayload, len(raw), PlaneBytes)
	}
	return bitmap.FromBytes(address.TileWidth, address.TileWidth, raw)
}

// EncodeTile сжимает битмап тайла.
func (c *Codec) EncodeTile(p *bitmap.Plane) ([]byte, error) {
	if err := checkTilePlane(p); err != nil {
		return nil, err
	}
	return c.deflate(p.Bytes())
}

// DecodeRecord разбирает 515-байтную запись родного формата.
//
// Последние три байта: XXXXXYYY YY0ZZZZZ ZZZZZZZZ, где X и Y - буквы региона
// со смещением '?', Z - (число единиц << 1) + 1.
func (c *Codec) DecodeRecord(rec []byte) (*bitmap.Plane, world.Region, error) {
	if len(rec) != RecordSize {
		return nil, "", fmt.Errorf("%w: запись %d байт", ErrTruncatedBlock, len(rec))
	}
	plane, err := bitmap.FromBytes(address.TileWidth, address.TileWidth, rec[:PlaneBytes])
	if err != nil {
		return nil, "", err
	}
	extra := rec[PlaneBytes:]

	stored := int(binary.BigEndian.Uint16(extra[1:]) & checksumMask)
	if want := recordChecksum(plane.Popcount()); stored != want {
		if c.verifyChecksums {
			return nil, "", fmt.Errorf("%w: запись хранит %d, ожидалось %d", ErrChecksumMismatch, stored, want)
		}
		c.logger.Warn("контрольная сумма записи не совпала: хранится %d, ожидалось %d", stored, want)
	}
	return plane, unpackRegion(extra), nil
}

// EncodeRecord собирает запись родного формата.
func (c *Codec) EncodeRecord(p *bitmap.Plane, region world.Region) ([]byte, error) {
	if err := checkTilePlane(p); err != nil {
		return nil, err
	}
	r0, r1, err := packRegion(region)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, RecordSize)
	copy(rec, p.Bytes())

	cs := recordChecksum(p.Popcount())
	rec[PlaneBytes] = r0<<3 | r1>>2
	rec[PlaneBytes+1] = (r1&0x03)<<6 | byte(cs>>8)&0x3F
	rec[PlaneBytes+2] = byte(cs)
	return rec, nil
}

func recordChecksum(popcount int) int {
	return (popcount<<1 + 1) & checksumMask
}

// Нулевые биты региона ("??") означают, что регион не задан.
func unpackRegion(extra []byte) world.Region {
	r0 := extra[0] >> 3
	r1 := (extra[0]&0x07)<<2 | (extra[1]&0xC0)>>6
	if r0 == 0 && r1 == 0 {
		return ""
	}
	return world.Region([]byte{regionBase + r0, regionBase + r1})
}

func packRegion(region world.Region) (byte, byte, error) {
	if region == "" {
		return 0, 0, nil
	}
	if len(region) != 2 {
		return 0, 0, fmt.Errorf("%w: регион %q не из двух букв", ErrCorruptPayload, region)
	}
	var out [2]byte
	for i := 0; i < 2; i++ {
		v := int(region[i]) - regionBase
		if v < 0 || v >= 1<<regionBits {
			return 0, 0, fmt.Errorf("%w: символ %q региона не кодируется", ErrCorruptPayload, region[i])
		}
		out[i] = byte(v)
	}
	return out[0], out[1], nil
}

func checkTilePlane(p *bitmap.Plane) error {
	if p.Width() != address.TileWidth || p.Height() != address.TileWidth {
		return fmt.Errorf("%w: тайл %dx%d, ожидалось %dx%d", bitmap.ErrDimensionMismatch,
			p.Width(), p.Height(), address.TileWidth, address.TileWidth)
	}
	return nil
}
