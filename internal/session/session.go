// Package session runs the per-board worker pair that turns an image into
// captured console text.
//
// An image worker hands the queued image to the board when the board asks
// for it and signals the console worker that a test is starting. The console
// worker reads the serial console continuously; once armed it accumulates
// text until the job's end marker shows up and publishes everything up to and
// including the marker. Workers live as long as the Session.
package session

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autopeer-io/boardfarm/internal/imaging"
	"github.com/autopeer-io/boardfarm/internal/pkg/faults"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

const (
	readChunk          = 100
	defaultReadTimeout = time.Second
	retryBackoff       = time.Second
)

// Flasher serves images to a board. take returns the queued image, or false
// when nothing is queued yet; Serve keeps offering until ctx is done.
type Flasher interface {
	Serve(ctx context.Context, take func() (*imaging.Image, bool)) error
}

// Console is a byte stream from the board's serial console. A Read that
// times out returns 0, nil.
type Console interface {
	Read(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Request describes one device run.
type Request struct {
	Image *imaging.Image
	// EndMarker is literal text that terminates the console capture.
	EndMarker string
	// ReadTimeout is applied to console reads while armed.
	ReadTimeout time.Duration
	// Timeout bounds the wait for console output.
	Timeout time.Duration
}

type queuedImage struct {
	seq   uint64
	img   *imaging.Image
	start startSignal
}

type startSignal struct {
	seq         uint64
	marker      *regexp.Regexp
	readTimeout time.Duration
}

type output struct {
	seq  uint64
	text string
}

// Session is the persistent worker pair of one board.
type Session struct {
	slot    int
	flasher Flasher
	console Console
	logger  log.Logger

	images  chan queuedImage
	starts  chan startSignal
	stops   chan uint64
	outputs chan output

	seq     atomic.Uint64
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closeMu sync.Mutex
	closed  bool
}

// New creates the session of board slot. Workers start on the first Run.
// A session without transports (both nil) is passive and cannot Run.
func New(slot int, flasher Flasher, console Console, logger log.Logger) *Session {
	if logger == nil {
		logger = log.WithName("session")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		slot:    slot,
		flasher: flasher,
		console: console,
		logger:  logger.WithValues("slot", slot),
		images:  make(chan queuedImage, 1),
		starts:  make(chan startSignal, 1),
		stops:   make(chan uint64, 4),
		outputs: make(chan output, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Session) Slot() int { return s.slot }

// Run queues req.Image and waits for the console output of this run. ok is
// false when no output arrived within req.Timeout; that is not an error.
func (s *Session) Run(ctx context.Context, req Request) (text string, ok bool, err error) {
	if s.flasher == nil || s.console == nil {
		return "", false, fmt.Errorf("session %d: no flashing or console transport", s.slot)
	}
	if req.Image == nil {
		return "", false, fmt.Errorf("session %d: no image", s.slot)
	}
	if err := s.ctx.Err(); err != nil {
		return "", false, fmt.Errorf("session %d: closed", s.slot)
	}
	s.once.Do(s.startWorkers)

	seq := s.seq.Add(1)
	s.drainOutputs()

	q := queuedImage{
		seq: seq,
		img: req.Image,
		start: startSignal{
			seq:         seq,
			marker:      regexp.MustCompile(regexp.QuoteMeta(req.EndMarker)),
			readTimeout: req.ReadTimeout,
		},
	}
	select {
	case s.images <- q:
	default:
		return "", false, faults.Fatalf("session %d: image queue still holds a previous image", s.slot)
	}

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	for {
		select {
		case out := <-s.outputs:
			if out.seq != seq {
				s.logger.Debug("Dropping stale console output", "seq", out.seq, "want", seq)
				continue
			}
			return out.text, true, nil
		case <-timer.C:
			s.withdraw()
			return "", false, nil
		case <-ctx.Done():
			s.withdraw()
			s.Stop()
			return "", false, ctx.Err()
		}
	}
}

// Stop asks the console worker to abandon the current capture and flush the
// console input buffer.
func (s *Session) Stop() {
	seq := s.seq.Load()
	for {
		select {
		case s.stops <- seq:
			return
		default:
		}
		// Full: older stops are implied by the newest one.
		select {
		case <-s.stops:
		default:
		}
	}
}

// Close stops both workers and closes the console.
func (s *Session) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()
	var err error
	if s.console != nil {
		err = s.console.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Session) withdraw() {
	select {
	case q := <-s.images:
		s.logger.Info("Board never fetched its image, withdrawn", "seq", q.seq)
	default:
	}
}

func (s *Session) drainOutputs() {
	for {
		select {
		case <-s.outputs:
		default:
			return
		}
	}
}

func (s *Session) startWorkers() {
	s.wg.Add(2)
	go s.imageLoop()
	go s.consoleLoop()
}

// take is called by the Flasher when the board requests its image.
func (s *Session) take() (*imaging.Image, bool) {
	select {
	case q := <-s.images:
		// At most one start is meaningful; replace a leftover one.
		select {
		case <-s.starts:
		default:
		}
		s.starts <- q.start
		s.logger.Info("Image handed to board", "seq", q.seq, "size", q.img.Size)
		return q.img, true
	default:
		return nil, false
	}
}

func (s *Session) imageLoop() {
	defer s.wg.Done()
	for {
		err := s.flasher.Serve(s.ctx, s.take)
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Error(err, "Flashing transport stopped, restarting")
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(retryBackoff):
		}
	}
}

type capture struct {
	start startSignal
	acc   []byte
}

func (s *Session) consoleLoop() {
	defer s.wg.Done()

	if err := s.console.SetReadTimeout(defaultReadTimeout); err != nil {
		s.logger.Error(err, "Setting console read timeout")
	}

	var (
		buf         = make([]byte, readChunk)
		armed       *capture
		lastStopped uint64
	)

	for {
		n, err := s.console.Read(buf)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Error(err, "Console read failed")
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(retryBackoff):
			}
			continue
		}
		chunk := buf[:n]

		// Collect stop requests; the newest one covers all older sequences.
		for drained := false; !drained; {
			select {
			case seq := <-s.stops:
				lastStopped = max(lastStopped, seq)
			default:
				drained = true
			}
		}

		if armed != nil && armed.start.seq <= lastStopped {
			s.logger.Info("Capture stopped", "seq", armed.start.seq, "bytes", len(armed.acc))
			armed = nil
			if err := s.console.ResetInputBuffer(); err != nil {
				s.logger.Error(err, "Resetting console input buffer")
			}
			s.setReadTimeout(defaultReadTimeout)
			continue
		}

		if armed == nil {
			select {
			case st := <-s.starts:
				if st.seq <= lastStopped {
					continue
				}
				armed = &capture{start: st}
				s.setReadTimeout(st.readTimeout)
				s.logger.Debug("Capture armed", "seq", st.seq)
			default:
				continue
			}
		}

		armed.acc = append(armed.acc, chunk...)
		loc := armed.start.marker.FindIndex(armed.acc)
		if loc == nil {
			continue
		}

		out := output{seq: armed.start.seq, text: toText(armed.acc[:loc[1]])}
		armed = nil
		s.setReadTimeout(defaultReadTimeout)

		select {
		case <-s.outputs:
		default:
		}
		s.outputs <- out
	}
}

func (s *Session) setReadTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultReadTimeout
	}
	if err := s.console.SetReadTimeout(d); err != nil {
		s.logger.Error(err, "Setting console read timeout")
	}
}
