package address

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// Уровни квадродерева, на которых живут данные приложения.
const (
	MaxZoom   = 28 // 2*28 бит quadkey + 8 бит уровня помещаются в uint64
	BlockZoom = 9  // файл синхронизации
	TileZoom  = 16 // битмап 64x64
	PixelZoom = 22 // один пиксель битмапа

	MapWidth   = 1 << BlockZoom              // 512 блоков по стороне карты
	BlockWidth = 1 << (TileZoom - BlockZoom) // 128 тайлов по стороне блока
	TileWidth  = 1 << (PixelZoom - TileZoom) // 64 пикселя по стороне тайла
	BlockSlots = BlockWidth * BlockWidth     // слотов в таблице блока

	zoomShift   = 56
	quadkeyMask = 1<<zoomShift - 1
)

// ErrInvalidAddress возвращается при выходе координат за пределы квадродерева.
var ErrInvalidAddress = errors.New("invalid address")

// TileID упаковывает (zoom, x, y) в одно число: старший байт хранит уровень,
// младшие 56 бит - quadkey с чередованием бит x (чётные) и y (нечётные).
// Сортировка по TileID группирует узлы по уровню, затем в Z-порядке.
type TileID uint64

// None обозначает отсутствующий адрес (уровень 255 не бывает валидным).
const None TileID = ^TileID(0)

// Compose собирает TileID из координат узла.
func Compose(zoom uint8, x, y uint32) (TileID, error) {
	if zoom > MaxZoom {
		return 0, fmt.Errorf("%w: уровень %d больше %d", ErrInvalidAddress, zoom, MaxZoom)
	}
	side := uint64(1) << zoom
	if uint64(x) >= side || uint64(y) >= side {
		return 0, fmt.Errorf("%w: (%d,%d) вне сетки уровня %d", ErrInvalidAddress, x, y, zoom)
	}
	return TileID(uint64(zoom)<<zoomShift | interleave(x, y)), nil
}

// MustCompose как Compose, но паникует. Только для констант и тестов.
func MustCompose(zoom uint8, x, y uint32) TileID {
	id, err := Compose(zoom, x, y)
	if err != nil {
		panic(err)
	}
	return id
}

// Decompose раскладывает TileID обратно на (zoom, x, y).
func Decompose(id TileID) (zoom uint8, x, y uint32) {
	zoom = uint8(id >> zoomShift)
	x, y = deinterleave(uint64(id) & quadkeyMask)
	return zoom, x, y
}

// FromTile переводит тайл orb в TileID.
func FromTile(t maptile.Tile) (TileID, error) {
	if uint32(t.Z) > MaxZoom {
		return 0, fmt.Errorf("%w: уровень %d больше %d", ErrInvalidAddress, t.Z, MaxZoom)
	}
	return Compose(uint8(t.Z), t.X, t.Y)
}

// Zoom возвращает уровень узла.
func (id TileID) Zoom() uint8 { return uint8(id >> zoomShift) }

// X возвращает столбец узла на его уровне.
func (id TileID) X() uint32 {
	_, x, _ := Decompose(id)
	return x
}

// Y возвращает строку узла на его уровне.
func (id TileID) Y() uint32 {
	_, _, y := Decompose(id)
	return y
}

// Quadkey возвращает чередованные биты без уровня.
func (id TileID) Quadkey() uint64 { return uint64(id) & quadkeyMask }

// Valid проверяет, что id мог быть получен из Compose.
func (id TileID) Valid() bool {
	z := id.Zoom()
	if z > MaxZoom {
		return false
	}
	return id.Quadkey()>>(2*uint(z)) == 0
}

// Tile возвращает тот же узел в виде maptile.Tile.
func (id TileID) Tile() maptile.Tile {
	z, x, y := Decompose(id)
	return maptile.New(x, y, maptile.Zoom(z))
}

func (id TileID) String() string {
	if id == None {
		return "none"
	}
	z, x, y := Decompose(id)
	return fmt.Sprintf("%d/%d/%d", z, x, y)
}

// AncestorAt возвращает предка узла на более грубом уровне.
func AncestorAt(id TileID, zoom uint8) (TileID, error) {
	if !id.Valid() {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidAddress, uint64(id))
	}
	own := id.Zoom()
	if zoom > own {
		return 0, fmt.Errorf("%w: уровень %d мельче собственного %d", ErrInvalidAddress, zoom, own)
	}
	q := id.Quadkey() >> (2 * uint(own-zoom))
	return TileID(uint64(zoom)<<zoomShift | q), nil
}

// Parent возвращает непосредственного родителя.
func (id TileID) Parent() (TileID, error) {
	if id.Zoom() == 0 {
		return 0, fmt.Errorf("%w: у корня нет родителя", ErrInvalidAddress)
	}
	return FromTile(id.Tile().Parent())
}

// Children возвращает четырёх потомков на следующем уровне.
func (id TileID) Children() ([]TileID, error) {
	if id.Zoom() >= MaxZoom {
		return nil, fmt.Errorf("%w: уровень %d максимальный", ErrInvalidAddress, id.Zoom())
	}
	return fromTiles(id.Tile().Children())
}

// Siblings возвращает всех детей родителя, включая сам узел.
func (id TileID) Siblings() ([]TileID, error) {
	if id.Zoom() == 0 {
		return []TileID{id}, nil
	}
	return fromTiles(id.Tile().Siblings())
}

func fromTiles(tiles maptile.Tiles) ([]TileID, error) {
	out := make([]TileID, 0, len(tiles))
	for _, t := range tiles {
		id, err := FromTile(t)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func spread(v uint32) uint64 {
	x := uint64(v)
	x = (x | x<<16) & 0x0000FFFF0000FFFF
	x = (x | x<<8) & 0x00FF00FF00FF00FF
	x = (x | x<<4) & 0x0F0F0F0F0F0F0F0F
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}

func compact(x uint64) uint32 {
	x &= 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0F0F0F0F0F0F0F0F
	x = (x | x>>4) & 0x00FF00FF00FF00FF
	x = (x | x>>8) & 0x0000FFFF0000FFFF
	x = (x | x>>16) & 0x00000000FFFFFFFF
	return uint32(x)
}

func interleave(x, y uint32) uint64 { return spread(x) | spread(y)<<1 }

func deinterleave(q uint64) (x, y uint32) { return compact(q), compact(q >> 1) }
