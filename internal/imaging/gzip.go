package imaging

import (
	"bytes"
	"context"

	"github.com/klauspost/compress/gzip"
)

// Gzip compresses at the best compression level, like gzip -9.
type Gzip struct{}

func (Gzip) Name() string { return "gzip" }

func (Gzip) Apply(_ context.Context, in []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
