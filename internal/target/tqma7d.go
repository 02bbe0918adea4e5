package target

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/imaging"
	"github.com/autopeer-io/boardfarm/internal/session"
	"github.com/autopeer-io/boardfarm/pkg/log"
)

const (
	HandlerTQMa7D = "tqma7d"

	tqma7dLoadAddress = 0x80200000
	tqma7dBaudRate    = 115200
	tqma7dImageName   = "RTEMS"
)

func init() {
	Register(HandlerTQMa7D, tqma7d{})
}

// tqma7d boots an RTEMS test as a gzipped uImage over TFTP and reads its
// output on a serial console.
type tqma7d struct{}

func (tqma7d) Validate(b *model.BoardConfig) error {
	var errs []error
	if b.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("board %q: listenAddr is required", b.Name))
	}
	if b.SerialDevice == "" {
		errs = append(errs, fmt.Errorf("board %q: serialDevice is required", b.Name))
	}
	if b.Objcopy == "" {
		errs = append(errs, fmt.Errorf("board %q: objcopy is required", b.Name))
	}
	if b.BaudRate == 0 {
		b.BaudRate = tqma7dBaudRate
	}
	if b.LoadAddress == 0 {
		b.LoadAddress = tqma7dLoadAddress
	}
	return utilerrors.NewAggregate(errs)
}

func (tqma7d) NewSession(b model.BoardConfig, slot int, logger log.Logger) (*session.Session, error) {
	console, err := session.OpenSerial(b.SerialDevice, b.BaudRate)
	if err != nil {
		return nil, err
	}
	flasher := &session.TFTPFlasher{
		Addr:    b.ListenAddr,
		Timeout: b.TransmitTimeout,
		Logger:  logger.WithName("tftp"),
	}
	return session.New(slot, flasher, console, logger), nil
}

func (tqma7d) NewHandler(deps Deps, job *model.Job) (Handler, error) {
	if deps.Session == nil {
		return nil, fmt.Errorf("board %q has no session", deps.Board.Name)
	}
	return &imageHandler{
		job:      job,
		pipeline: tqma7dPipeline(deps.Board, deps.WorkDir),
		session:  deps.Session,
		logger:   deps.Logger,
	}, nil
}

// tqma7dPipeline: objcopy -O binary | gzip -9 | mkimage -A arm -O linux -T kernel.
func tqma7dPipeline(b model.BoardConfig, workDir string) imaging.Pipeline {
	load := b.LoadAddress
	if load == 0 {
		load = tqma7dLoadAddress
	}
	return imaging.NewChain(workDir,
		&imaging.Objcopy{Tool: b.Objcopy, WorkDir: workDir},
		imaging.Gzip{},
		&imaging.UImage{
			ImageName: tqma7dImageName,
			Load:      load,
			Entry:     load,
			OS:        imaging.OSLinux,
			Arch:      imaging.ArchARM,
			Type:      imaging.TypeKernel,
			Comp:      imaging.CompGzip,
		},
	)
}
