package target

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/imaging"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

func TestRegisteredHandlers(t *testing.T) {
	require.Equal(t, []string{HandlerDummy, HandlerTQMa7D}, Names())
	_, ok := Lookup("rpi4")
	require.False(t, ok)
}

func TestTQMa7DValidate(t *testing.T) {
	tq, _ := Lookup(HandlerTQMa7D)

	b := &model.BoardConfig{Name: "tqma7d-0"}
	require.Error(t, tq.Validate(b))

	b = &model.BoardConfig{
		Name:         "tqma7d-0",
		ListenAddr:   "192.168.10.1:69",
		SerialDevice: "/dev/ttyUSB0",
		Objcopy:      "arm-rtems6-objcopy",
	}
	require.NoError(t, tq.Validate(b))
	require.Equal(t, 115200, b.BaudRate)
	require.Equal(t, uint32(0x80200000), b.LoadAddress)
}

func TestTQMa7DPipelineWrapsImage(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script tool")
	}
	dir := t.TempDir()
	tool := filepath.Join(dir, "objcopy")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\ncp \"$3\" \"$4\"\n"), 0o755))

	job := &model.Job{ID: "j1", Payload: []byte("elf"), Config: model.JobConfig{EndMarker: "END", Timeout: time.Second}}
	h := &imageHandler{
		job:      job,
		pipeline: tqma7dPipeline(model.BoardConfig{Objcopy: tool}, dir),
		logger:   log.NewNopLogger(),
	}

	ctx := context.Background()
	require.NoError(t, h.ProcessFile(ctx))
	require.NotNil(t, h.image)

	data, err := os.ReadFile(h.image.Path)
	require.NoError(t, err)
	require.Equal(t, uint32(imaging.UImageMagic), binary.BigEndian.Uint32(data))
	require.Equal(t, uint32(0x80200000), binary.BigEndian.Uint32(data[16:]))

	path := h.image.Path
	require.NoError(t, h.Exit(ctx))
	require.NoFileExists(t, path)
	require.NoError(t, h.Exit(ctx))
}

func TestImageHandlerRunBeforeProcess(t *testing.T) {
	h := &imageHandler{job: &model.Job{}, logger: log.NewNopLogger()}
	_, ok, err := h.Run(context.Background())
	require.Error(t, err)
	require.False(t, ok)
}

func TestDummyHandler(t *testing.T) {
	d, _ := Lookup(HandlerDummy)
	s, err := d.NewSession(model.BoardConfig{}, 0, log.NewNopLogger())
	require.NoError(t, err)
	defer s.Close()

	h, err := d.NewHandler(Deps{
		Board:   model.BoardConfig{RunTimeFirstHalf: time.Millisecond, RunTimeSecondHalf: time.Millisecond},
		Session: s,
		Logger:  log.NewNopLogger(),
	}, &model.Job{})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.ProcessFile(ctx))
	out, ok, err := h.Run(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "success", out)
	h.HandleTimeout(ctx)
	require.NoError(t, h.Exit(ctx))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = (&dummyHandler{firstHalf: time.Hour, logger: log.NewNopLogger()}).Run(cctx)
	require.ErrorIs(t, err, context.Canceled)
}
