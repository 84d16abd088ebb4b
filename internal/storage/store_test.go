package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/cache"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/metrics"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

func testModel(t *testing.T, blocks int) *world.Model {
	t.Helper()
	m := world.NewModel()
	for i := 0; i < blocks; i++ {
		addr := address.MustCompose(address.BlockZoom, uint32(100+i), uint32(200+i))
		b, err := world.NewBlock(addr)
		require.NoError(t, err)
		for _, slot := range []int{i, 128*i + 7} {
			id, err := address.TileAt(addr, slot)
			require.NoError(t, err)
			tile, err := world.NewTile(id, "CD")
			require.NoError(t, err)
			require.NoError(t, tile.Plane.Set(i, slot%64, true))
			require.NoError(t, b.Put(tile))
		}
		require.NoError(t, m.Insert(b))
	}
	return m
}

func saveModel(t *testing.T, dir string, m *world.Model, f codec.FormatVersion) {
	t.Helper()
	require.NoError(t, NewStore(dir, WithLogger(logging.Nop())).Save(context.Background(), m, f))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for _, f := range []codec.FormatVersion{codec.FormatSync, codec.FormatFramed} {
		t.Run(f.String(), func(t *testing.T) {
			dir := t.TempDir()
			want := testModel(t, 4)
			saveModel(t, dir, want, f)

			for b := range want.Blocks() {
				name, err := address.FileName(b.Addr)
				require.NoError(t, err)
				assert.FileExists(t, filepath.Join(dir, name))
			}

			got, report, err := NewStore(dir, WithLogger(logging.Nop())).Load(context.Background())
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
			assert.Equal(t, 4, report.Total)
			assert.Equal(t, 4, report.Decoded)
			assert.Empty(t, report.Failures)
			require.Len(t, got.Sources, 1)
			assert.Equal(t, dir, got.Sources[0].Path)
			assert.Equal(t, f.String(), got.Sources[0].Format)
			assert.NotEmpty(t, got.Sources[0].ID)
		})
	}
}

func TestStore_PartialFailure(t *testing.T) {
	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 3), codec.FormatSync)

	badAddr := address.MustCompose(address.BlockZoom, 7, 7)
	badName, err := address.FileName(badAddr)
	require.NoError(t, err)
	badPath := filepath.Join(dir, badName)
	require.NoError(t, os.WriteFile(badPath, []byte{0x78, 0x9c, 0xff, 0xff, 0xff}, 0o644))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	model, report, err := NewStore(dir, WithLogger(logging.Nop()), WithMetrics(m)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, model.BlockCount())
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Decoded)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, badPath, report.Failures[0].Path)
	assert.ErrorIs(t, report.Failures[0], codec.ErrCorruptPayload)
	assert.Equal(t, "corrupt", Reason(report.Failures[0]))
	_, ok := model.Block(badAddr)
	assert.False(t, ok)
}

func TestStore_ResultsInNameOrder(t *testing.T) {
	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 6), codec.FormatFramed)

	s := NewStore(dir, WithLogger(logging.Nop()), WithWorkers(3))
	files, err := s.Files()
	require.NoError(t, err)

	var got []string
	for r := range s.Results(context.Background()) {
		require.NoError(t, r.Err)
		got = append(got, r.Path)
	}
	assert.Equal(t, files, got)
}

func TestStore_AbandonedResultsDoNotLeak(t *testing.T) {
	// badger тянет glog, а у того свой фоновый сброс буферов.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"))

	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 8), codec.FormatSync)

	s := NewStore(dir, WithLogger(logging.Nop()), WithWorkers(2))
	n := 0
	for r := range s.Results(context.Background()) {
		require.NoError(t, r.Err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestStore_Canceled(t *testing.T) {
	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 3), codec.FormatSync)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := NewStore(dir, WithLogger(logging.Nop())).Load(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStore_ResolvesSyncSubdir(t *testing.T) {
	root := t.TempDir()
	syncDir := filepath.Join(root, SyncDirName)
	saveModel(t, syncDir, testModel(t, 2), codec.FormatSync)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hi"), 0o644))

	s := NewStore(root, WithLogger(logging.Nop()))
	assert.Equal(t, syncDir, s.Dir())

	model, report, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, model.BlockCount())
	assert.Empty(t, report.Failures)
}

func TestStore_SkipsHiddenAndDirs(t *testing.T) {
	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 1), codec.FormatSync)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	files, err := NewStore(dir).Files()
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestStore_MissingDir(t *testing.T) {
	_, _, err := NewStore(filepath.Join(t.TempDir(), "nope")).Load(context.Background())
	assert.ErrorIs(t, err, ErrIOFailure)
}

func TestStore_NameMismatch(t *testing.T) {
	dir := t.TempDir()
	model := testModel(t, 1)
	saveModel(t, dir, model, codec.FormatSync)

	files, err := NewStore(dir).Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	name := filepath.Base(files[0])
	renamed := filepath.Join(dir, "0000"+name[4:])
	require.NoError(t, os.Rename(files[0], renamed))

	lenient, report, err := NewStore(dir, WithLogger(logging.Nop())).Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.True(t, model.Equal(lenient))

	_, report, err = NewStore(dir, WithLogger(logging.Nop()), WithStrictNames(true)).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], codec.ErrAddressMismatch)
}

func TestStore_DuplicateBlock(t *testing.T) {
	dir := t.TempDir()
	model := testModel(t, 1)
	saveModel(t, dir, model, codec.FormatFramed)

	// Второй файл того же блока под посторонним именем: адрес берётся из заголовка.
	files, err := NewStore(dir).Files()
	require.NoError(t, err)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "zz-copy"), data, 0o644))

	got, report, err := NewStore(dir, WithLogger(logging.Nop())).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.BlockCount())
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], world.ErrDuplicateBlock)
}

func TestStore_CacheHits(t *testing.T) {
	dir := t.TempDir()
	want := testModel(t, 3)
	saveModel(t, dir, want, codec.FormatSync)

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	c := cache.NewMemoryCache(16)
	s := NewStore(dir, WithLogger(logging.Nop()), WithCache(c), WithMetrics(m))

	_, first, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.Cached)

	got, second, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Cached)
	assert.True(t, want.Equal(got))
	assert.Equal(t, int64(3), c.Metrics().Hits)
}

// corruptRecordChecksum портит контрольную сумму первой записи родного файла.
func corruptRecordChecksum(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	r, err := zlib.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	raw[codec.SlotTableSize+codec.PlaneBytes+2] ^= 0x02

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestStore_CacheSeparatesChecksumModes(t *testing.T) {
	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 1), codec.FormatSync)
	files, err := NewStore(dir).Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	corruptRecordChecksum(t, files[0])

	c := cache.NewMemoryCache(16)
	defer c.Close()
	lenient := NewStore(dir, WithLogger(logging.Nop()), WithCache(c),
		WithCodec(codec.New(codec.WithVerifyChecksums(false))))
	got, report, err := lenient.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, got.BlockCount())

	_, report, err = lenient.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cached)

	strict := NewStore(dir, WithLogger(logging.Nop()), WithCache(c), WithCodec(codec.New()))
	got, report, err = strict.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Cached)
	assert.Equal(t, 1, report.Failed())
	assert.ErrorIs(t, report.Failures[0], codec.ErrChecksumMismatch)
	assert.Equal(t, 0, got.BlockCount())
}

func TestStore_SaveRemovesStaleBlocks(t *testing.T) {
	dir := t.TempDir()
	saveModel(t, dir, testModel(t, 3), codec.FormatSync)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	smaller := testModel(t, 1)
	saveModel(t, dir, smaller, codec.FormatFramed)

	files, err := NewStore(dir).Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))

	got, report, err := NewStore(dir, WithLogger(logging.Nop())).Load(context.Background())
	require.NoError(t, err)
	assert.True(t, smaller.Equal(got))
	assert.Equal(t, 1, report.Decoded)
	// посторонний файл не разбирается ни одним форматом
	assert.Equal(t, 1, report.Failed())
}
