package imaging_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/internal/imaging"
)

func TestIdentityStoresPayload(t *testing.T) {
	dir := t.TempDir()
	img, err := imaging.Identity(dir).Process(context.Background(), []byte("raw test binary"))
	require.NoError(t, err)
	require.Equal(t, int64(15), img.Size)

	data, err := os.ReadFile(img.Path)
	require.NoError(t, err)
	require.Equal(t, "raw test binary", string(data))

	require.NoError(t, img.Release())
	require.NoFileExists(t, img.Path)
	require.NoError(t, img.Release())
}

func TestUImageHeader(t *testing.T) {
	payload := []byte("compressed kernel")
	stamp := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	u := &imaging.UImage{
		ImageName: "RTEMS",
		Load:      0x80200000,
		Entry:     0x80200000,
		OS:        imaging.OSLinux,
		Arch:      imaging.ArchARM,
		Type:      imaging.TypeKernel,
		Comp:      imaging.CompGzip,
		Now:       func() time.Time { return stamp },
	}

	out, err := u.Apply(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, out, imaging.UImageHeaderSize+len(payload))

	h := out[:imaging.UImageHeaderSize]
	be := binary.BigEndian
	require.Equal(t, uint32(imaging.UImageMagic), be.Uint32(h[0:]))
	require.Equal(t, uint32(stamp.Unix()), be.Uint32(h[8:]))
	require.Equal(t, uint32(len(payload)), be.Uint32(h[12:]))
	require.Equal(t, uint32(0x80200000), be.Uint32(h[16:]))
	require.Equal(t, uint32(0x80200000), be.Uint32(h[20:]))
	require.Equal(t, crc32.ChecksumIEEE(payload), be.Uint32(h[24:]))
	require.Equal(t, []byte{imaging.OSLinux, imaging.ArchARM, imaging.TypeKernel, imaging.CompGzip}, h[28:32])
	require.Equal(t, "RTEMS", string(bytes.TrimRight(h[32:64], "\x00")))

	hdr := append([]byte(nil), h...)
	hcrc := be.Uint32(hdr[4:])
	be.PutUint32(hdr[4:], 0)
	require.Equal(t, crc32.ChecksumIEEE(hdr), hcrc)

	require.Equal(t, payload, out[imaging.UImageHeaderSize:])
}

func TestUImageRejectsLongName(t *testing.T) {
	u := &imaging.UImage{ImageName: "an-image-name-that-does-not-fit-in-32"}
	_, err := u.Apply(context.Background(), nil)
	require.Error(t, err)
}

func TestChainGzipThenWrap(t *testing.T) {
	raw := bytes.Repeat([]byte("rtems test payload "), 64)
	chain := imaging.NewChain(t.TempDir(), imaging.Gzip{}, &imaging.UImage{ImageName: "RTEMS", Comp: imaging.CompGzip})

	img, err := chain.Process(context.Background(), raw)
	require.NoError(t, err)
	defer img.Release()

	data, err := os.ReadFile(img.Path)
	require.NoError(t, err)

	zr, err := gzip.NewReader(bytes.NewReader(data[imaging.UImageHeaderSize:]))
	require.NoError(t, err)
	got, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

type failingStage struct{}

func (failingStage) Name() string { return "broken" }
func (failingStage) Apply(context.Context, []byte) ([]byte, error) {
	return nil, io.ErrUnexpectedEOF
}

func TestChainStageError(t *testing.T) {
	dir := t.TempDir()
	_, err := imaging.NewChain(dir, failingStage{}).Process(context.Background(), []byte("x"))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.ErrorContains(t, err, "broken")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestObjcopyRunsTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "fake-objcopy")
	// Called as: tool -O binary <in> <out>
	script := "#!/bin/sh\n[ \"$1\" = \"-O\" ] && [ \"$2\" = \"binary\" ] || exit 2\ncp \"$3\" \"$4\"\n"
	require.NoError(t, os.WriteFile(tool, []byte(script), 0o755))

	stage := &imaging.Objcopy{Tool: tool, WorkDir: dir}
	out, err := stage.Apply(context.Background(), []byte("\x7fELF..."))
	require.NoError(t, err)
	require.Equal(t, []byte("\x7fELF..."), out)

	stage.Tool = filepath.Join(dir, "missing-objcopy")
	_, err = stage.Apply(context.Background(), []byte("x"))
	require.Error(t, err)
}
