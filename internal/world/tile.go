package world

import (
	"fmt"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/bitmap"
)

// Region - двухбуквенный код региона, который приложение пишет в каждый тайл.
type Region string

// BorderRegion - приграничная зона или нейтральные воды.
const BorderRegion Region = "@@"

// Label возвращает человекочитаемое имя региона.
func (r Region) Label() string {
	if r == BorderRegion {
		return "BORDER/INTERNATIONAL"
	}
	return string(r)
}

func (r Region) rank() int {
	switch r {
	case "":
		return 0
	case BorderRegion:
		return 1
	default:
		return 2
	}
}

// PreferRegion выбирает регион при слиянии двух копий тайла.
// Порядок полный (пусто < граница < код, коды лексикографически),
// поэтому результат не зависит от порядка входов.
func PreferRegion(a, b Region) Region {
	ra, rb := a.rank(), b.rank()
	switch {
	case ra != rb:
		if ra > rb {
			return a
		}
		return b
	case a <= b:
		return a
	default:
		return b
	}
}

// Tile - битмап посещённых пикселей одной ячейки 64x64.
type Tile struct {
	ID     address.TileID
	Region Region
	Plane  *bitmap.Plane
}

// NewTile создаёт пустой тайл стандартного размера.
func NewTile(id address.TileID, region Region) (*Tile, error) {
	if id.Zoom() != address.TileZoom || !id.Valid() {
		return nil, fmt.Errorf("%w: %s не тайл", address.ErrInvalidAddress, id)
	}
	plane, err := bitmap.New(address.TileWidth, address.TileWidth)
	if err != nil {
		return nil, err
	}
	return &Tile{ID: id, Region: region, Plane: plane}, nil
}

// Coverage возвращает число посещённых пикселей.
func (t *Tile) Coverage() int { return t.Plane.Popcount() }

// Clone возвращает глубокую копию.
func (t *Tile) Clone() *Tile {
	return &Tile{ID: t.ID, Region: t.Region, Plane: t.Plane.Clone()}
}

// Equal сравнивает адрес, регион и пиксели.
func (t *Tile) Equal(other *Tile) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.ID == other.ID && t.Region == other.Region && t.Plane.Equal(other.Plane)
}
