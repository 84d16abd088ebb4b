package address

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose_Isomorphism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		zoom := uint8(rng.Intn(MaxZoom + 1))
		side := uint64(1) << zoom
		x := uint32(rng.Uint64() % side)
		y := uint32(rng.Uint64() % side)

		id, err := Compose(zoom, x, y)
		require.NoError(t, err)
		assert.True(t, id.Valid())

		gz, gx, gy := Decompose(id)
		require.Equal(t, []uint32{uint32(zoom), x, y}, []uint32{uint32(gz), gx, gy})

		back, err := Compose(gz, gx, gy)
		require.NoError(t, err)
		assert.Equal(t, id, back)
	}
}

func TestCompose_Invalid(t *testing.T) {
	_, err := Compose(MaxZoom+1, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Compose(3, 8, 0)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = Compose(0, 0, 1)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	assert.False(t, None.Valid())
}

func TestTileID_MatchesMaptile(t *testing.T) {
	id := MustCompose(TileZoom, 26900, 12345)
	tile := id.Tile()

	assert.Equal(t, uint32(26900), tile.X)
	assert.Equal(t, uint32(12345), tile.Y)
	assert.Equal(t, uint32(TileZoom), uint32(tile.Z))

	back, err := FromTile(tile)
	require.NoError(t, err)
	assert.Equal(t, id, back)
	assert.Equal(t, "16/26900/12345", id.String())
}

func TestAncestorAt(t *testing.T) {
	tile := MustCompose(TileZoom, 128*210+5, 128*2+127)

	block, err := AncestorAt(tile, BlockZoom)
	require.NoError(t, err)
	assert.Equal(t, MustCompose(BlockZoom, 210, 2), block)

	self, err := AncestorAt(tile, TileZoom)
	require.NoError(t, err)
	assert.Equal(t, tile, self)

	root, err := AncestorAt(tile, 0)
	require.NoError(t, err)
	assert.Equal(t, MustCompose(0, 0, 0), root)

	_, err = AncestorAt(block, TileZoom)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestParentChildren(t *testing.T) {
	id := MustCompose(10, 513, 700)

	children, err := id.Children()
	require.NoError(t, err)
	require.Len(t, children, 4)
	for _, c := range children {
		assert.Equal(t, uint8(11), c.Zoom())
		p, err := c.Parent()
		require.NoError(t, err)
		assert.Equal(t, id, p)
	}

	siblings, err := children[0].Siblings()
	require.NoError(t, err)
	assert.ElementsMatch(t, children, siblings)

	_, err = MustCompose(0, 0, 0).Parent()
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestSlotRoundTrip(t *testing.T) {
	block := MustCompose(BlockZoom, 300, 17)

	for _, slot := range []int{0, 1, 127, 128, 5000, BlockSlots - 1} {
		tile, err := TileAt(block, slot)
		require.NoError(t, err)

		got, err := Slot(tile)
		require.NoError(t, err)
		assert.Equal(t, slot, got)

		owner, err := BlockOf(tile)
		require.NoError(t, err)
		assert.Equal(t, block, owner)
	}

	_, err := TileAt(block, BlockSlots)
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = Slot(block)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestBlockFileID(t *testing.T) {
	block, err := BlockFromFileID(1234)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234%MapWidth), block.X())
	assert.Equal(t, uint32(1234/MapWidth), block.Y())

	fid, err := BlockFileID(block)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), fid)

	_, err = BlockFromFileID(MapWidth * MapWidth)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestPixelTile(t *testing.T) {
	tile, lx, ly, err := PixelTile(64*7+3, 64*9+63)
	require.NoError(t, err)
	assert.Equal(t, MustCompose(TileZoom, 7, 9), tile)
	assert.Equal(t, 3, lx)
	assert.Equal(t, 63, ly)
}
