package address

import "fmt"

// BlockOf возвращает адрес блока (файла синхронизации), которому принадлежит тайл.
func BlockOf(tile TileID) (TileID, error) {
	if tile.Zoom() != TileZoom {
		return 0, fmt.Errorf("%w: %s не тайл", ErrInvalidAddress, tile)
	}
	return AncestorAt(tile, BlockZoom)
}

// Slot возвращает индекс тайла в таблице своего блока: ly*128 + lx.
func Slot(tile TileID) (int, error) {
	if tile.Zoom() != TileZoom || !tile.Valid() {
		return 0, fmt.Errorf("%w: %s не тайл", ErrInvalidAddress, tile)
	}
	_, x, y := Decompose(tile)
	lx := int(x & (BlockWidth - 1))
	ly := int(y & (BlockWidth - 1))
	return ly*BlockWidth + lx, nil
}

// TileAt возвращает тайл блока по индексу слота.
func TileAt(block TileID, slot int) (TileID, error) {
	if block.Zoom() != BlockZoom || !block.Valid() {
		return 0, fmt.Errorf("%w: %s не блок", ErrInvalidAddress, block)
	}
	if slot < 0 || slot >= BlockSlots {
		return 0, fmt.Errorf("%w: слот %d", ErrInvalidAddress, slot)
	}
	_, bx, by := Decompose(block)
	x := bx*BlockWidth + uint32(slot%BlockWidth)
	y := by*BlockWidth + uint32(slot/BlockWidth)
	return Compose(TileZoom, x, y)
}

// BlockFileID возвращает числовой идентификатор файла: y*512 + x.
func BlockFileID(block TileID) (uint32, error) {
	if block.Zoom() != BlockZoom || !block.Valid() {
		return 0, fmt.Errorf("%w: %s не блок", ErrInvalidAddress, block)
	}
	_, x, y := Decompose(block)
	return y*MapWidth + x, nil
}

// BlockFromFileID обратна BlockFileID.
func BlockFromFileID(fid uint32) (TileID, error) {
	if fid >= MapWidth*MapWidth {
		return 0, fmt.Errorf("%w: номер файла %d", ErrInvalidAddress, fid)
	}
	return Compose(BlockZoom, fid%MapWidth, fid/MapWidth)
}

// PixelTile находит тайл по глобальным координатам пикселя и
// возвращает локальные координаты пикселя внутри него.
func PixelTile(px, py uint32) (TileID, int, int, error) {
	tile, err := Compose(TileZoom, px/TileWidth, py/TileWidth)
	if err != nil {
		return 0, 0, 0, err
	}
	return tile, int(px % TileWidth), int(py % TileWidth), nil
}
