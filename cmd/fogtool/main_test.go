package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tslmy/Fog-of-World-Data-Parser/internal/address"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/app"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/codec"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/logging"
	"github.com/tslmy/Fog-of-World-Data-Parser/internal/world"
)

func writeSnapshot(t *testing.T, dir string, tileX, tileY uint32, px, py int) {
	t.Helper()
	id := address.MustCompose(address.TileZoom, tileX, tileY)
	addr, err := address.BlockOf(id)
	require.NoError(t, err)
	b, err := world.NewBlock(addr)
	require.NoError(t, err)
	tile, err := world.NewTile(id, "CD")
	require.NoError(t, err)
	require.NoError(t, tile.Plane.Set(px, py, true))
	require.NoError(t, b.Put(tile))
	m := world.NewModel()
	require.NoError(t, m.Insert(b))
	require.NoError(t, app.SaveSnapshot(context.Background(), m, dir, app.WithLogger(logging.Nop())))
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FOG_CONFIG", "")
	var out bytes.Buffer
	root, c := newRootCmd()
	defer c.teardown()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStats_JSON(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, 5000, 6000, 1, 1)

	out, err := run(t, "stats", dir, "--json", "--blocks")
	require.NoError(t, err)

	var got statsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 1, got.Blocks)
	assert.Equal(t, 1, got.Tiles)
	assert.Equal(t, 1, got.Pixels)
	assert.Equal(t, []string{"CD"}, got.Regions)
	require.Len(t, got.Summary, 1)
	assert.Equal(t, uint32(5000/address.BlockWidth), got.Summary[0].X)
}

func TestStats_Text(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, 5000, 6000, 1, 1)

	out, err := run(t, "stats", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "блоков:")
	assert.Contains(t, out, "пикселей:")
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, 5000, 6000, 1, 1)

	out, err := run(t, "verify", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1/1")

	name, err := address.FileName(address.MustCompose(address.BlockZoom, 1, 1))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("garbage"), 0o644))

	out, err = run(t, "verify", dir)
	assert.ErrorIs(t, err, errVerifyFailed)
	assert.Contains(t, out, "[version]")
}

func TestMerge(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeSnapshot(t, a, 5000, 6000, 0, 0)
	writeSnapshot(t, b, 5000, 6000, 1, 1)
	outDir := filepath.Join(t.TempDir(), "merged")

	out, err := run(t, "merge", a, b, "--out", outDir, "--format", "framed")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "1 блоков"))

	model, report, err := app.LoadSnapshot(context.Background(), outDir, app.WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 2, model.Coverage())
	assert.Equal(t, codec.FormatFramed.String(), model.Sources[0].Format)
}

func TestMerge_RequiresOut(t *testing.T) {
	_, err := run(t, "merge", t.TempDir())
	assert.Error(t, err)
}
