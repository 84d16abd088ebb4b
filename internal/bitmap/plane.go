// Package bitmap хранит битовую сетку посещённых пикселей одного тайла.
//
// Раскладка совпадает с форматом приложения: строки подряд, в строке width/8 байт,
// пиксель x лежит в бите 7-x%8 байта x/8 (старший бит первый).
package bitmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
)

var (
	// ErrOutOfRange - координаты за пределами плоскости.
	ErrOutOfRange = errors.New("pixel out of range")
	// ErrDimensionMismatch - размеры плоскостей не совпадают или недопустимы.
	ErrDimensionMismatch = errors.New("plane dimension mismatch")
)

// Plane - битовая плоскость фиксированного размера.
type Plane struct {
	width  int
	height int
	bits   []byte
}

// New создаёт пустую плоскость. Ширина должна быть кратна 8.
func New(width, height int) (*Plane, error) {
	if width <= 0 || height <= 0 || width%8 != 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimensionMismatch, width, height)
	}
	return &Plane{
		width:  width,
		height: height,
		bits:   make([]byte, width/8*height),
	}, nil
}

// FromBytes создаёт плоскость из копии сырых байт.
func FromBytes(width, height int, raw []byte) (*Plane, error) {
	p, err := New(width, height)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(p.bits) {
		return nil, fmt.Errorf("%w: %d байт для %dx%d", ErrDimensionMismatch, len(raw), width, height)
	}
	copy(p.bits, raw)
	return p, nil
}

func (p *Plane) Width() int  { return p.width }
func (p *Plane) Height() int { return p.height }

// Bytes возвращает внутренний буфер. Вызывающий не должен его менять.
func (p *Plane) Bytes() []byte { return p.bits }

func (p *Plane) index(x, y int) (int, byte, error) {
	if x < 0 || y < 0 || x >= p.width || y >= p.height {
		return 0, 0, fmt.Errorf("%w: (%d,%d) вне %dx%d", ErrOutOfRange, x, y, p.width, p.height)
	}
	return y*(p.width/8) + x/8, byte(1) << (7 - uint(x%8)), nil
}

// Get сообщает, посещён ли пиксель.
func (p *Plane) Get(x, y int) (bool, error) {
	i, mask, err := p.index(x, y)
	if err != nil {
		return false, err
	}
	return p.bits[i]&mask != 0, nil
}

// Set помечает пиксель посещённым или снимает отметку.
func (p *Plane) Set(x, y int, visited bool) error {
	i, mask, err := p.index(x, y)
	if err != nil {
		return err
	}
	if visited {
		p.bits[i] |= mask
	} else {
		p.bits[i] &^= mask
	}
	return nil
}

// Popcount возвращает число посещённых пикселей.
func (p *Plane) Popcount() int {
	n := 0
	b := p.bits
	for len(b) >= 8 {
		n += bits.OnesCount64(binary.LittleEndian.Uint64(b))
		b = b[8:]
	}
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n
}

// SameShape сравнивает только размеры.
func (p *Plane) SameShape(other *Plane) bool {
	return p.width == other.width && p.height == other.height
}

// Union возвращает новую плоскость - поэлементное ИЛИ.
func (p *Plane) Union(other *Plane) (*Plane, error) {
	out := p.Clone()
	if err := out.UnionInPlace(other); err != nil {
		return nil, err
	}
	return out, nil
}

// UnionInPlace добавляет пиксели other в p.
func (p *Plane) UnionInPlace(other *Plane) error {
	if !p.SameShape(other) {
		return fmt.Errorf("%w: %dx%d и %dx%d", ErrDimensionMismatch, p.width, p.height, other.width, other.height)
	}
	for i, v := range other.bits {
		p.bits[i] |= v
	}
	return nil
}

// Equal сравнивает размеры и содержимое.
func (p *Plane) Equal(other *Plane) bool {
	if p == nil || other == nil {
		return p == other
	}
	if !p.SameShape(other) {
		return false
	}
	for i, v := range p.bits {
		if other.bits[i] != v {
			return false
		}
	}
	return true
}

// Clone возвращает независимую копию.
func (p *Plane) Clone() *Plane {
	c := &Plane{width: p.width, height: p.height, bits: make([]byte, len(p.bits))}
	copy(c.bits, p.bits)
	return c
}

func (p *Plane) String() string {
	return fmt.Sprintf("Plane(%dx%d, %d visited)", p.width, p.height, p.Popcount())
}
