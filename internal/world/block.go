package world

import (
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
)

var (
	// ErrForeignTile - тайл не лежит внутри блока.
	ErrForeignTile = errors.New("tile outside block")
	// ErrDuplicateTile - тайл с таким адресом уже есть.
	ErrDuplicateTile = errors.New("duplicate tile")
	// ErrDuplicateBlock - блок с таким адресом уже есть в модели.
	ErrDuplicateBlock = errors.New("duplicate block")
)

// Block - содержимое одного файла синхронизации: до 128x128 тайлов
// под общим предком уровня address.BlockZoom.
type Block struct {
	Addr  address.TileID
	tiles map[address.TileID]*Tile
}

// BlockSummary - сводка для внешних экспортёров.
type BlockSummary struct {
	Addr      address.TileID `json:"addr"`
	X         uint32         `json:"x"`
	Y         uint32         `json:"y"`
	TileCount int            `json:"tiles"`
	Coverage  int            `json:"coverage"`
}

// NewBlock создаёт пустой блок.
func NewBlock(addr address.TileID) (*Block, error) {
	if addr.Zoom() != address.BlockZoom || !addr.Valid() {
		return nil, fmt.Errorf("%w: %s не блок", address.ErrInvalidAddress, addr)
	}
	return &Block{Addr: addr, tiles: make(map[address.TileID]*Tile)}, nil
}

// Put добавляет тайл. Тайл должен принадлежать блоку и не повторяться.
func (b *Block) Put(t *Tile) error {
	owner, err := address.BlockOf(t.ID)
	if err != nil {
		return err
	}
	if owner != b.Addr {
		return fmt.Errorf("%w: %s не в блоке %s", ErrForeignTile, t.ID, b.Addr)
	}
	if _, exists := b.tiles[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTile, t.ID)
	}
	b.tiles[t.ID] = t
	return nil
}

// Tile возвращает тайл по адресу.
func (b *Block) Tile(id address.TileID) (*Tile, bool) {
	t, ok := b.tiles[id]
	return t, ok
}

// Len возвращает число тайлов.
func (b *Block) Len() int { return len(b.tiles) }

// IDs возвращает адреса тайлов по возрастанию.
func (b *Block) IDs() []address.TileID {
	ids := make([]address.TileID, 0, len(b.tiles))
	for id := range b.tiles {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Tiles перебирает тайлы по возрастанию TileID.
func (b *Block) Tiles() iter.Seq[*Tile] {
	return func(yield func(*Tile) bool) {
		for _, id := range b.IDs() {
			if !yield(b.tiles[id]) {
				return
			}
		}
	}
}

// Coverage возвращает суммарное число посещённых пикселей.
func (b *Block) Coverage() int {
	n := 0
	for _, t := range b.tiles {
		n += t.Coverage()
	}
	return n
}

// Summary собирает сводку блока.
func (b *Block) Summary() BlockSummary {
	_, x, y := address.Decompose(b.Addr)
	return BlockSummary{
		Addr:      b.Addr,
		X:         x,
		Y:         y,
		TileCount: b.Len(),
		Coverage:  b.Coverage(),
	}
}

// Regions возвращает отсортированный набор регионов блока.
func (b *Block) Regions() []Region {
	set := make(map[Region]struct{})
	for _, t := range b.tiles {
		if t.Region != "" {
			set[t.Region] = struct{}{}
		}
	}
	out := make([]Region, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Clone возвращает глубокую копию блока.
func (b *Block) Clone() *Block {
	c := &Block{Addr: b.Addr, tiles: make(map[address.TileID]*Tile, len(b.tiles))}
	for id, t := range b.tiles {
		c.tiles[id] = t.Clone()
	}
	return c
}

// Equal сравнивает адрес и все тайлы.
func (b *Block) Equal(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	if b.Addr != other.Addr || len(b.tiles) != len(other.tiles) {
		return false
	}
	for id, t := range b.tiles {
		o, ok := other.tiles[id]
		if !ok || !t.Equal(o) {
			return false
		}
	}
	return true
}
