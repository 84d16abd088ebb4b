package codec

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

// makeRecord собирает запись родного формата вручную: первые ones битов
// битмапа выставлены, регион и контрольная сумма упакованы в хвост.
func makeRecord(region string, ones int, checksum int) []byte {
	rec := make([]byte, RecordSize)
	for i := 0; i < ones; i++ {
		rec[i/8] |= 1 << (7 - i%8)
	}
	r0 := region[0] - '?'
	r1 := region[1] - '?'
	rec[PlaneBytes] = r0<<3 | r1>>2
	rec[PlaneBytes+1] = (r1&0x3)<<6 | byte(checksum>>8)&0x3F
	rec[PlaneBytes+2] = byte(checksum)
	return rec
}

// makeSyncFile собирает сжатый родной файл из записей, разложенных по слотам.
func makeSyncFile(t *testing.T, slots map[int][]byte) []byte {
	t.Helper()
	raw := make([]byte, SlotTableSize)
	idx := 0
	for slot := 0; slot < address.BlockSlots; slot++ {
		rec, ok := slots[slot]
		if !ok {
			continue
		}
		idx++
		binary.LittleEndian.PutUint16(raw[slot*2:], uint16(idx))
		raw = append(raw, rec...)
	}
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func sampleBlock(t *testing.T) *world.Block {
	t.Helper()
	addr := address.MustCompose(address.BlockZoom, 210, 2)
	b, err := world.NewBlock(addr)
	require.NoError(t, err)

	for i, tc := range []struct {
		slot   int
		region world.Region
		pixels [][2]int
	}{
		{slot: 0, region: "CD", pixels: [][2]int{{0, 0}, {63, 63}}},
		{slot: 129, region: world.BorderRegion, pixels: [][2]int{{5, 7}}},
		{slot: 16383, region: "", pixels: [][2]int{{12, 40}, {13, 40}, {14, 40}}},
	} {
		id, err := address.TileAt(addr, tc.slot)
		require.NoError(t, err, "tile %d", i)
		tile, err := world.NewTile(id, tc.region)
		require.NoError(t, err)
		for _, p := range tc.pixels {
			require.NoError(t, tile.Plane.Set(p[0], p[1], true))
		}
		require.NoError(t, b.Put(tile))
	}
	return b
}

func TestDecodeSync_HandBuiltFile(t *testing.T) {
	addr, err := address.BlockFromFileID(1234)
	require.NoError(t, err)
	data := makeSyncFile(t, map[int][]byte{
		0: makeRecord("CD", 15, 15<<1+1),
	})

	c := New()
	b, f, err := c.Decode(data, addr)
	require.NoError(t, err)
	assert.Equal(t, FormatSync, f)
	require.Equal(t, 1, b.Len())

	tile, ok := b.Tile(address.MustCompose(address.TileZoom, 210*128, 2*128))
	require.True(t, ok)
	assert.Equal(t, world.Region("CD"), tile.Region)
	assert.Equal(t, 15, tile.Coverage())
	for i := 0; i < 15; i++ {
		v, err := tile.Plane.Get(i%64, i/64)
		require.NoError(t, err)
		assert.True(t, v, "пиксель %d", i)
	}
	v, err := tile.Plane.Get(15, 0)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestSync_RoundTrip(t *testing.T) {
	c := New()
	b := sampleBlock(t)

	data, err := c.Encode(b, FormatSync)
	require.NoError(t, err)
	assert.Equal(t, FormatSync, DetectFormat(data))

	got, f, err := c.Decode(data, b.Addr)
	require.NoError(t, err)
	assert.Equal(t, FormatSync, f)
	assert.True(t, b.Equal(got))
}

func TestFramed_RoundTrip(t *testing.T) {
	c := New()
	b := sampleBlock(t)

	data, err := c.Encode(b, FormatFramed)
	require.NoError(t, err)
	assert.Equal(t, FormatFramed, DetectFormat(data))

	got, f, err := c.Decode(data, address.None)
	require.NoError(t, err)
	assert.Equal(t, FormatFramed, f)
	assert.True(t, b.Equal(got))

	got, _, err = c.Decode(data, b.Addr)
	require.NoError(t, err)
	assert.True(t, b.Equal(got))
}

func TestEncode_CanonicalIsStable(t *testing.T) {
	c := New(WithCanonical(true))
	b := sampleBlock(t)

	for _, f := range []FormatVersion{FormatSync, FormatFramed} {
		first, err := c.Encode(b, f)
		require.NoError(t, err)
		second, err := c.Encode(b.Clone(), f)
		require.NoError(t, err)
		assert.Equal(t, first, second, f.String())

		decoded, _, err := c.Decode(first, b.Addr)
		require.NoError(t, err)
		again, err := c.Encode(decoded, f)
		require.NoError(t, err)
		assert.Equal(t, first, again, f.String())
	}
}

func TestEncode_FastModeDecodes(t *testing.T) {
	fast := New(WithCanonical(false))
	assert.False(t, fast.Canonical())
	b := sampleBlock(t)

	data, err := fast.Encode(b, FormatFramed)
	require.NoError(t, err)
	got, _, err := New().Decode(data, b.Addr)
	require.NoError(t, err)
	assert.True(t, b.Equal(got))
}

func TestEncode_EmptyBlock(t *testing.T) {
	c := New()
	addr := address.MustCompose(address.BlockZoom, 0, 0)
	b, err := world.NewBlock(addr)
	require.NoError(t, err)

	for _, f := range []FormatVersion{FormatSync, FormatFramed} {
		data, err := c.Encode(b, f)
		require.NoError(t, err)
		got, _, err := c.Decode(data, addr)
		require.NoError(t, err, f.String())
		assert.Equal(t, 0, got.Len())
	}
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatFramed, DetectFormat([]byte("FOWB\x02")))
	assert.Equal(t, FormatSync, DetectFormat([]byte{0x78, 0x9c}))
	assert.Equal(t, FormatSync, DetectFormat([]byte{0x78, 0xda}))
	assert.Equal(t, FormatUnknown, DetectFormat([]byte{0x78}))
	assert.Equal(t, FormatUnknown, DetectFormat([]byte("hello")))
	assert.Equal(t, FormatUnknown, DetectFormat(nil))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]FormatVersion{
		"": FormatSync, "sync": FormatSync, "V1": FormatSync,
		"framed": FormatFramed, " v2 ": FormatFramed,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("v3")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecode_UnsupportedVersion(t *testing.T) {
	c := New()
	b := sampleBlock(t)
	data, err := c.Encode(b, FormatFramed)
	require.NoError(t, err)

	data[4] = 3
	_, _, err = c.Decode(data, b.Addr)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, _, err = c.Decode([]byte("not a block at all"), b.Addr)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecode_AddressMismatch(t *testing.T) {
	c := New()
	b := sampleBlock(t)
	data, err := c.Encode(b, FormatFramed)
	require.NoError(t, err)

	other := address.MustCompose(address.BlockZoom, 1, 1)
	_, _, err = c.Decode(data, other)
	assert.ErrorIs(t, err, ErrAddressMismatch)

	syncData, err := c.Encode(b, FormatSync)
	require.NoError(t, err)
	_, _, err = c.Decode(syncData, address.None)
	assert.ErrorIs(t, err, ErrAddressMismatch)
}

func TestDecodeFramed_Truncated(t *testing.T) {
	c := New()
	b := sampleBlock(t)
	data, err := c.Encode(b, FormatFramed)
	require.NoError(t, err)

	_, _, err = c.Decode(data[:len(data)-3], b.Addr)
	assert.ErrorIs(t, err, ErrTruncatedBlock)

	_, _, err = c.Decode(data[:10], b.Addr)
	assert.ErrorIs(t, err, ErrTruncatedBlock)

	body := append([]byte{}, data[:len(data)-framedFooterSize]...)
	body = append(body, 0xAA)
	padded := append(body, data[len(data)-framedFooterSize:]...)
	_, _, err = c.Decode(padded, b.Addr)
	assert.ErrorIs(t, err, ErrTruncatedBlock)
}

func TestDecodeFramed_ChecksumMismatch(t *testing.T) {
	c := New()
	b := sampleBlock(t)
	data, err := c.Encode(b, FormatFramed)
	require.NoError(t, err)

	footer := append([]byte{}, data...)
	footer[len(footer)-1] ^= 0xFF
	_, _, err = c.Decode(footer, b.Addr)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	payload := append([]byte{}, data...)
	payload[framedHeaderSize+framedTileHeader+2] ^= 0x01
	_, _, err = c.Decode(payload, b.Addr)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestDecodeSync_RecordChecksum(t *testing.T) {
	addr := address.MustCompose(address.BlockZoom, 3, 4)
	data := makeSyncFile(t, map[int][]byte{
		7: makeRecord("AB", 20, 99),
	})

	_, _, err := New(WithVerifyChecksums(true)).Decode(data, addr)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	b, _, err := New(WithVerifyChecksums(false)).Decode(data, addr)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, 20, b.Coverage())
}

func TestDecodeSync_TrailingDataAndUnusedRecords(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := New(WithLogger(logging.NewLogger("codec", zap.New(core))))
	addr := address.MustCompose(address.BlockZoom, 3, 4)

	raw := make([]byte, SlotTableSize, SlotTableSize+2*RecordSize)
	binary.LittleEndian.PutUint16(raw[5*2:], 2)
	raw = append(raw, makeRecord("AA", 1, 3)...)
	raw = append(raw, makeRecord("CD", 2, 5)...)
	data, err := c.deflate(raw)
	require.NoError(t, err)
	data = append(data, "garbage"...)

	b, _, err := c.Decode(data, addr)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, 2, b.Coverage())

	require.Equal(t, 2, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "7 байт после конца")
	assert.Contains(t, logs.All()[1].Message, "1 записей без ссылок")
}

func TestDecodeSync_Truncated(t *testing.T) {
	c := New()
	addr := address.MustCompose(address.BlockZoom, 3, 4)

	short, err := c.deflate(make([]byte, 100))
	require.NoError(t, err)
	_, _, err = c.Decode(short, addr)
	assert.ErrorIs(t, err, ErrTruncatedBlock)

	raw := make([]byte, SlotTableSize, SlotTableSize+RecordSize)
	binary.LittleEndian.PutUint16(raw, 2)
	raw = append(raw, makeRecord("AA", 1, 3)...)
	dangling, err := c.deflate(raw)
	require.NoError(t, err)
	_, _, err = c.Decode(dangling, addr)
	assert.ErrorIs(t, err, ErrTruncatedBlock)

	ragged, err := c.deflate(append(raw, 1, 2, 3))
	require.NoError(t, err)
	_, _, err = c.Decode(ragged, addr)
	assert.ErrorIs(t, err, ErrTruncatedBlock)
}

func TestDecode_CorruptPayload(t *testing.T) {
	c := New()
	addr := address.MustCompose(address.BlockZoom, 3, 4)

	_, _, err := c.Decode([]byte{0x78, 0x9c, 0xff, 0xff, 0xff, 0xff}, addr)
	assert.ErrorIs(t, err, ErrCorruptPayload)

	_, err = c.DecodeTile([]byte{0x78, 0x9c, 0x00})
	assert.ErrorIs(t, err, ErrCorruptPayload)

	small, err := c.deflate(make([]byte, 10))
	require.NoError(t, err)
	_, err = c.DecodeTile(small)
	assert.ErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodeSync_IgnoresUnreferencedRecords(t *testing.T) {
	c := New()
	addr := address.MustCompose(address.BlockZoom, 3, 4)

	raw := make([]byte, SlotTableSize)
	binary.LittleEndian.PutUint16(raw[10*2:], 2)
	raw = append(raw, makeRecord("AA", 4, 9)...)
	raw = append(raw, makeRecord("BB", 2, 5)...)
	data, err := c.deflate(raw)
	require.NoError(t, err)

	b, _, err := c.Decode(data, addr)
	require.NoError(t, err)
	require.Equal(t, 1, b.Len())
	for tile := range b.Tiles() {
		assert.Equal(t, world.Region("BB"), tile.Region)
		assert.Equal(t, 2, tile.Coverage())
	}
}
