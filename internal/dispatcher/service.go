package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/apimachinery/pkg/util/uuid"

	"github.com/autopeer-io/boardfarm/internal/archive"
	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/notifier"
	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/internal/pkg/metrics"
	"github.com/autopeer-io/boardfarm/internal/pool"
	apiv1 "github.com/autopeer-io/boardfarm/pkg/apis/execution/v1"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

const archiveTimeout = 10 * time.Second

// unknownPool labels metrics of requests that never reached a pool.
const unknownPool = "none"

// JobDispatcher runs a job on the pool matching its target.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job *model.Job) (*pool.Result, error)
}

// Service turns execution requests into jobs and results into answers.
// After the first fatal fault it admits no further jobs.
type Service struct {
	dispatcher JobDispatcher
	notifier   notifier.Notifier
	archiver   archive.Archiver
	logger     log.Logger

	stopped   atomic.Bool
	fatalOnce sync.Once
	fatal     chan error
}

var _ pool.Observer = (*Service)(nil)

// NewService wires a Service. n and a may be nil.
func NewService(d JobDispatcher, n notifier.Notifier, a archive.Archiver, logger log.Logger) *Service {
	if n == nil {
		n = notifier.Nop{}
	}
	if logger == nil {
		logger = log.WithName("service")
	}
	return &Service{
		dispatcher: d,
		notifier:   n,
		archiver:   a,
		logger:     logger,
		fatal:      make(chan error, 1),
	}
}

// Fatal delivers the first fatal fault.
func (s *Service) Fatal() <-chan error {
	return s.fatal
}

func (s *Service) Ready() bool {
	return !s.stopped.Load()
}

func (s *Service) Execute(ctx context.Context, req *apiv1.ExecutionRequest) *apiv1.ExecutionResult {
	job, err := s.newJob(req)
	if err != nil {
		return s.fail(unknownPool, err)
	}

	logger := s.logger.WithValues("job", job.ID, "pool", job.PoolKey().String())
	logger.Info("Job received", "size", len(job.Payload), "retryMaximum", job.Config.RetryMaximum, "timeout", job.Config.Timeout)

	res, err := s.dispatcher.Dispatch(ctx, job)
	if err != nil {
		poolName := job.PoolKey().String()
		if faults.IsRequest(err) {
			poolName = unknownPool
		} else {
			s.notifier.JobFinished(notifier.JobEvent{
				JobID:      job.ID,
				Pool:       job.PoolKey().String(),
				Result:     resultOf(err),
				DurationMs: time.Since(job.ReceivedAt).Milliseconds(),
				Time:       time.Now().UTC(),
			})
		}
		logger.Error(err, "Job failed", "fault", faults.KindOf(err))
		return s.fail(poolName, err)
	}

	result := metrics.ResultSuccess
	if !res.Succeeded {
		result = metrics.ResultTimeout
	}
	metrics.JobsTotal.WithLabelValues(res.Pool, result).Inc()
	metrics.JobDuration.WithLabelValues(res.Pool).Observe(res.Duration.Seconds())

	s.notifier.JobFinished(notifier.JobEvent{
		JobID:      job.ID,
		Pool:       res.Pool,
		Board:      res.Board,
		Slot:       res.Slot,
		Result:     result,
		Retries:    res.Retries,
		DurationMs: res.Duration.Milliseconds(),
		Time:       time.Now().UTC(),
	})

	out := &apiv1.ExecutionResult{Text: res.Text}
	if res.Succeeded && s.archiver != nil {
		out.ConsoleLogURL = s.archive(ctx, job, res, logger)
	}
	return out
}

func (s *Service) newJob(req *apiv1.ExecutionRequest) (*model.Job, error) {
	if !s.Ready() {
		return nil, faults.Requestf("server stopped admitting jobs after a fatal fault")
	}
	if err := req.Validate(); err != nil {
		return nil, faults.Requestf("invalid execution request: %w", err)
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, faults.Requestf("invalid execution request: %w", err)
	}

	cfg := model.JobConfig{
		Architecture:  req.Target.Architecture,
		Board:         req.Target.Board,
		RetryMaximum:  req.RetryMaximum,
		Timeout:       req.TimeoutDuration(),
		EndMarker:     req.EndString,
		SerialTimeout: req.SerialTimeoutDuration(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, faults.Requestf("invalid job: %w", err)
	}

	return &model.Job{
		ID:         string(uuid.NewUUID()),
		Payload:    payload,
		Config:     cfg,
		ReceivedAt: time.Now(),
	}, nil
}

func (s *Service) fail(poolName string, err error) *apiv1.ExecutionResult {
	metrics.JobsTotal.WithLabelValues(poolName, resultOf(err)).Inc()
	if faults.IsFatal(err) {
		s.trip(err)
	}
	return &apiv1.ExecutionResult{
		Text:  faults.ResponseText(err),
		Fault: string(faults.KindOf(err)),
	}
}

// trip stops job admission and reports err once.
func (s *Service) trip(err error) {
	s.stopped.Store(true)
	s.fatalOnce.Do(func() {
		s.fatal <- err
	})
}

func (s *Service) archive(ctx context.Context, job *model.Job, res *pool.Result, logger log.Logger) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
	defer cancel()

	u, err := s.archiver.Archive(ctx, archive.Record{
		JobID:      job.ID,
		Pool:       res.Pool,
		FinishedAt: time.Now(),
		Text:       res.Text,
	})
	if err != nil {
		logger.Warn("Archiving console output failed", "error", err)
		return ""
	}
	return u
}

// BoardAssigned publishes the job/started event.
func (s *Service) BoardAssigned(job *model.Job, key model.PoolKey, b *pool.Board) {
	s.notifier.JobStarted(notifier.JobEvent{
		JobID: job.ID,
		Pool:  key.String(),
		Board: b.Config.Name,
		Slot:  b.Slot,
		Time:  time.Now().UTC(),
	})
}

func resultOf(err error) string {
	switch faults.KindOf(err) {
	case faults.KindFatal:
		return metrics.ResultFatal
	case faults.KindStateMachine:
		return metrics.ResultFSMError
	case faults.KindRequest:
		return metrics.ResultRequestError
	default:
		return metrics.ResultError
	}
}
