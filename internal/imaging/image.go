// Package imaging turns a test binary into an image a board can boot.
package imaging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Image is a flashable file on disk. It is owned by one job and removed by
// Release once the job is done with it.
type Image struct {
	Path string
	Size int64
}

func (i *Image) Open() (*os.File, error) {
	return os.Open(i.Path)
}

// Release removes the backing file. Releasing twice is harmless.
func (i *Image) Release() error {
	if err := os.Remove(i.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release image: %w", err)
	}
	return nil
}

// Pipeline converts a raw binary into an Image.
type Pipeline interface {
	Process(ctx context.Context, raw []byte) (*Image, error)
}

// Stage is one step of a Chain.
type Stage interface {
	Name() string
	Apply(ctx context.Context, in []byte) ([]byte, error)
}

var _ Pipeline = (*Chain)(nil)

// Chain runs stages in order and writes the result into workDir.
type Chain struct {
	workDir string
	stages  []Stage
}

func NewChain(workDir string, stages ...Stage) *Chain {
	return &Chain{workDir: workDir, stages: stages}
}

// Identity stores the binary unchanged.
func Identity(workDir string) *Chain {
	return NewChain(workDir)
}

func (c *Chain) Process(ctx context.Context, raw []byte) (*Image, error) {
	data := raw
	for _, s := range c.stages {
		out, err := s.Apply(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name(), err)
		}
		data = out
	}

	f, err := os.CreateTemp(c.workDir, "image-*.bin")
	if err != nil {
		return nil, err
	}
	img := &Image{Path: f.Name(), Size: int64(len(data))}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = img.Release()
		return nil, err
	}
	if err := f.Close(); err != nil {
		_ = img.Release()
		return nil, err
	}
	return img, nil
}
