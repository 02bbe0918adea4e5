package session

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pin/tftp/v3"
	"go.bug.st/serial"

	"github.com/autopeer-io/boardfarm/internal/imaging"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

// TFTPFlasher serves the queued image to any read request on Addr.
type TFTPFlasher struct {
	Addr    string
	Timeout time.Duration
	Logger  log.Logger
}

var _ Flasher = (*TFTPFlasher)(nil)

func (f *TFTPFlasher) Serve(ctx context.Context, take func() (*imaging.Image, bool)) error {
	logger := f.Logger
	if logger == nil {
		logger = log.WithName("tftp")
	}

	srv := tftp.NewServer(func(filename string, rf io.ReaderFrom) error {
		img, ok := take()
		if !ok {
			// U-Boot retries until an image is queued.
			return fmt.Errorf("no image ready for %s", filename)
		}
		file, err := img.Open()
		if err != nil {
			return err
		}
		defer file.Close()

		if ot, ok := rf.(tftp.OutgoingTransfer); ok {
			ot.SetSize(img.Size)
			remote := ot.RemoteAddr()
			logger.Info("Serving image", "file", filename, "remote", remote.String())
		}
		n, err := rf.ReadFrom(file)
		if err != nil {
			return err
		}
		logger.Debug("Image sent", "bytes", n)
		return nil
	}, nil)
	if f.Timeout > 0 {
		srv.SetTimeout(f.Timeout)
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe(f.Addr) }()

	select {
	case <-ctx.Done():
		srv.Shutdown()
		<-errc
		return nil
	case err := <-errc:
		return fmt.Errorf("tftp %s: %w", f.Addr, err)
	}
}

// OpenSerial opens a serial console at 8N1 with the given baud rate.
func OpenSerial(device string, baudRate int) (Console, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", device, err)
	}
	return port, nil
}
