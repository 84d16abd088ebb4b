package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

const (
	// SlotTableSize - таблица 128x128 индексов u16 LE в начале родного файла.
	SlotTableSize = address.BlockSlots * 2
	// maxSyncSize - распакованный файл со всеми слотами занятыми.
	maxSyncSize = SlotTableSize + address.BlockSlots*RecordSize
)

// DecodeSync разбирает родной файл приложения. Адрес блока берётся из имени файла.
//
// Файл целиком сжат zlib. После распаковки идёт таблица слотов: 0 - слот пуст,
// иначе номер записи с единицы. Записи следуют за таблицей подряд.
// Байты после zlib-потока и записи без ссылок из таблицы не считаются
// ошибкой, но попадают в лог.
func (c *Codec) DecodeSync(data []byte, addr address.TileID) (*world.Block, error) {
	if addr == address.None {
		return nil, fmt.Errorf("%w: адрес блока не задан", ErrAddressMismatch)
	}
	block, err := world.NewBlock(addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
	}

	raw, trailing, err := inflateTail(data, maxSyncSize)
	if err != nil {
		return nil, err
	}
	if trailing > 0 {
		c.logger.Warn("блок %s: %d байт после конца сжатого потока", addr, trailing)
	}
	if len(raw) < SlotTableSize {
		return nil, fmt.Errorf("%w: таблица слотов %d байт из %d", ErrTruncatedBlock, len(raw), SlotTableSize)
	}
	records := raw[SlotTableSize:]
	if len(records)%RecordSize != 0 {
		return nil, fmt.Errorf("%w: хвост %d байт после записей", ErrTruncatedBlock, len(records)%RecordSize)
	}
	count := len(records) / RecordSize
	referenced := make(map[int]struct{}, count)

	for slot := 0; slot < address.BlockSlots; slot++ {
		idx := int(binary.LittleEndian.Uint16(raw[slot*2:]))
		if idx == 0 {
			continue
		}
		if idx > count {
			return nil, fmt.Errorf("%w: слот %d ссылается на запись %d из %d", ErrTruncatedBlock, slot, idx, count)
		}
		referenced[idx] = struct{}{}
		rec := records[(idx-1)*RecordSize : idx*RecordSize]
		plane, region, err := c.DecodeRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("слот %d: %w", slot, err)
		}
		id, err := address.TileAt(addr, slot)
		if err != nil {
			return nil, err
		}
		if err := block.Put(&world.Tile{ID: id, Region: region, Plane: plane}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
		}
	}
	if unused := count - len(referenced); unused > 0 {
		c.logger.Warn("блок %s: %d записей без ссылок из таблицы слотов", addr, unused)
	}
	return block, nil
}

// EncodeSync собирает родной файл. Записи идут в порядке TileID.
func (c *Codec) EncodeSync(b *world.Block) ([]byte, error) {
	if _, err := address.BlockFileID(b.Addr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
	}
	raw := make([]byte, SlotTableSize, SlotTableSize+b.Len()*RecordSize)

	idx := 0
	for t := range b.Tiles() {
		slot, err := address.Slot(t.ID)
		if err != nil {
			return nil, err
		}
		rec, err := c.EncodeRecord(t.Plane, t.Region)
		if err != nil {
			return nil, fmt.Errorf("тайл %s: %w", t.ID, err)
		}
		idx++
		binary.LittleEndian.PutUint16(raw[slot*2:], uint16(idx))
		raw = append(raw, rec...)
	}
	return c.deflate(raw)
}
