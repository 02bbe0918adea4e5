package target

import (
	"context"
	"fmt"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/imaging"
	"github.com/autopeer-io/boardfarm/internal/session"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

// imageHandler flashes a processed image through the board session and
// waits for the console output.
type imageHandler struct {
	job      *model.Job
	pipeline imaging.Pipeline
	session  *session.Session
	logger   log.Logger

	image *imaging.Image
}

func (h *imageHandler) ProcessFile(ctx context.Context) error {
	img, err := h.pipeline.Process(ctx, h.job.Payload)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}
	h.image = img
	h.logger.Info("Image ready", "bytes", img.Size, "input", len(h.job.Payload))
	return nil
}

func (h *imageHandler) Run(ctx context.Context) (string, bool, error) {
	if h.image == nil {
		return "", false, fmt.Errorf("run before the file was processed")
	}
	return h.session.Run(ctx, session.Request{
		Image:       h.image,
		EndMarker:   h.job.Config.EndMarker,
		ReadTimeout: h.job.Config.SerialTimeout,
		Timeout:     h.job.Config.Timeout,
	})
}

func (h *imageHandler) HandleTimeout(context.Context) {
	h.logger.Info("No console output in time, stopping capture", "timeout", h.job.Config.Timeout)
	h.session.Stop()
}

func (h *imageHandler) Exit(context.Context) error {
	if h.image == nil {
		return nil
	}
	err := h.image.Release()
	h.image = nil
	return err
}
