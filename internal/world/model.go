package world

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/bitmap"
)

// SnapshotSource описывает происхождение данных модели.
// На результат объединения пикселей не влияет.
type SnapshotSource struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"mod_time,omitempty"`
	Format  string    `json:"format,omitempty"`
}

// Model - вся исследованная карта одного пользователя: блоки по адресам.
// Модель не потокобезопасна: собирать её должен один писатель.
type Model struct {
	blocks  map[address.TileID]*Block
	Sources []SnapshotSource
}

// NewModel создаёт пустую модель.
func NewModel() *Model {
	return &Model{blocks: make(map[address.TileID]*Block)}
}

// Insert добавляет декодированный блок.
func (m *Model) Insert(b *Block) error {
	if _, exists := m.blocks[b.Addr]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, b.Addr)
	}
	m.blocks[b.Addr] = b
	return nil
}

// Block возвращает блок по адресу.
func (m *Model) Block(addr address.TileID) (*Block, bool) {
	b, ok := m.blocks[addr]
	return b, ok
}

// Tile находит тайл по его адресу.
func (m *Model) Tile(id address.TileID) (*Tile, bool) {
	addr, err := address.BlockOf(id)
	if err != nil {
		return nil, false
	}
	b, ok := m.blocks[addr]
	if !ok {
		return nil, false
	}
	return b.Tile(id)
}

// BlockCount возвращает число блоков.
func (m *Model) BlockCount() int { return len(m.blocks) }

// TileCount возвращает число тайлов во всех блоках.
func (m *Model) TileCount() int {
	n := 0
	for _, b := range m.blocks {
		n += b.Len()
	}
	return n
}

// Coverage возвращает число посещённых пикселей по всей карте.
func (m *Model) Coverage() int {
	n := 0
	for _, b := range m.blocks {
		n += b.Coverage()
	}
	return n
}

// Addrs возвращает адреса блоков по возрастанию.
func (m *Model) Addrs() []address.TileID {
	addrs := make([]address.TileID, 0, len(m.blocks))
	for a := range m.blocks {
		addrs = append(addrs, a)
	}
	slices.Sort(addrs)
	return addrs
}

// Blocks перебирает блоки по возрастанию адреса.
func (m *Model) Blocks() iter.Seq[*Block] {
	return func(yield func(*Block) bool) {
		for _, a := range m.Addrs() {
			if !yield(m.blocks[a]) {
				return
			}
		}
	}
}

// Tiles перебирает пары (TileID, плоскость) в детерминированном порядке.
// Плоскости принадлежат модели, менять их нельзя.
func (m *Model) Tiles() iter.Seq2[address.TileID, *bitmap.Plane] {
	return func(yield func(address.TileID, *bitmap.Plane) bool) {
		for b := range m.Blocks() {
			for t := range b.Tiles() {
				if !yield(t.ID, t.Plane) {
					return
				}
			}
		}
	}
}

// Summaries возвращает сводки по блокам в порядке адресов.
func (m *Model) Summaries() []BlockSummary {
	out := make([]BlockSummary, 0, len(m.blocks))
	for b := range m.Blocks() {
		out = append(out, b.Summary())
	}
	return out
}

// Regions возвращает все пройденные регионы.
func (m *Model) Regions() []Region {
	set := make(map[Region]struct{})
	for _, b := range m.blocks {
		for _, r := range b.Regions() {
			set[r] = struct{}{}
		}
	}
	out := make([]Region, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// IsVisited проверяет пиксель по глобальным координатам уровня address.PixelZoom.
func (m *Model) IsVisited(px, py uint32) bool {
	id, lx, ly, err := address.PixelTile(px, py)
	if err != nil {
		return false
	}
	t, ok := m.Tile(id)
	if !ok {
		return false
	}
	v, err := t.Plane.Get(lx, ly)
	return err == nil && v
}

// Equal сравнивает содержимое моделей без учёта источников.
func (m *Model) Equal(other *Model) bool {
	if m == nil || other == nil {
		return m == other
	}
	if len(m.blocks) != len(other.blocks) {
		return false
	}
	for a, b := range m.blocks {
		o, ok := other.blocks[a]
		if !ok || !b.Equal(o) {
			return false
		}
	}
	return true
}

// Clone возвращает глубокую копию вместе с источниками.
func (m *Model) Clone() *Model {
	c := NewModel()
	for a, b := range m.blocks {
		c.blocks[a] = b.Clone()
	}
	c.Sources = slices.Clone(m.Sources)
	return c
}

// SortSources упорядочивает источники по пути и ID и убирает повторы.
func (m *Model) SortSources() {
	slices.SortFunc(m.Sources, func(a, b SnapshotSource) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	m.Sources = slices.CompactFunc(m.Sources, func(a, b SnapshotSource) bool {
		return a.Path == b.Path && a.ID == b.ID
	})
}
