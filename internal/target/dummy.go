package target

import (
	"context"
	"time"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/session"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

const HandlerDummy = "dummy"

func init() {
	Register(HandlerDummy, dummy{})
}

// dummy simulates a board: it sleeps for the configured run time and always
// succeeds.
type dummy struct{}

func (dummy) Validate(*model.BoardConfig) error { return nil }

func (dummy) NewSession(_ model.BoardConfig, slot int, logger log.Logger) (*session.Session, error) {
	return session.New(slot, nil, nil, logger), nil
}

func (dummy) NewHandler(deps Deps, job *model.Job) (Handler, error) {
	return &dummyHandler{
		firstHalf:  deps.Board.RunTimeFirstHalf,
		secondHalf: deps.Board.RunTimeSecondHalf,
		logger:     deps.Logger.WithName("dummy"),
	}, nil
}

type dummyHandler struct {
	firstHalf  time.Duration
	secondHalf time.Duration
	logger     log.Logger
}

func (h *dummyHandler) ProcessFile(context.Context) error {
	h.logger.Info("Process file")
	return nil
}

func (h *dummyHandler) Run(ctx context.Context) (string, bool, error) {
	h.logger.Info("Run started", "firstHalf", h.firstHalf, "secondHalf", h.secondHalf)
	if err := sleep(ctx, h.firstHalf); err != nil {
		return "", false, err
	}
	h.logger.Info("Run halfway")
	if err := sleep(ctx, h.secondHalf); err != nil {
		return "", false, err
	}
	h.logger.Info("Run finished")
	return "success", true, nil
}

func (h *dummyHandler) HandleTimeout(context.Context) {
	h.logger.Info("Handle timeout")
}

func (h *dummyHandler) Exit(context.Context) error {
	h.logger.Info("Exit")
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
