package imaging

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const defaultObjcopyTimeout = 10 * time.Second

// Objcopy extracts a raw binary from an ELF with an external objcopy.
type Objcopy struct {
	// Tool is the objcopy executable, e.g. arm-rtems5-objcopy.
	Tool    string
	WorkDir string
	Timeout time.Duration
}

func (o *Objcopy) Name() string { return "objcopy" }

func (o *Objcopy) Apply(ctx context.Context, in []byte) ([]byte, error) {
	timeout := o.Timeout
	if timeout == 0 {
		timeout = defaultObjcopyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp(o.WorkDir, "objcopy-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "in.elf")
	dst := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(src, in, 0o600); err != nil {
		return nil, err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, o.Tool, "-O", "binary", src, dst)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", o.Tool, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return os.ReadFile(dst)
}
