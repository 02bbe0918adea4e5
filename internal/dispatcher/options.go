package dispatcher

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/boardfarm/internal/core/model"
	"github.com/autopeer-io/boardfarm/internal/power"
	"github.com/autopeer-io/boardfarm/pkg/options"
)

var _ options.IOptions = (*FarmOptions)(nil)

// FarmOptions declares the power strips and boards of the farm. Switches and
// boards are only read from the config file.
type FarmOptions struct {
	// WorkDir holds temporary images. Empty means the system temp dir.
	WorkDir  string              `json:"work-dir" mapstructure:"work-dir"`
	Switches []power.Config      `json:"switches" mapstructure:"switches"`
	Boards   []model.BoardConfig `json:"boards" mapstructure:"boards"`
}

func NewFarmOptions() *FarmOptions {
	return &FarmOptions{}
}

func (o *FarmOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.WorkDir, "farm.work-dir", o.WorkDir, "Directory for temporary images. Defaults to the system temp dir.")
}

func (o *FarmOptions) Complete() {
	if o.WorkDir == "" {
		o.WorkDir = os.TempDir()
	}
	for i := range o.Switches {
		o.Switches[i].Default()
	}
}

// Validate checks the declarations that do not need a running switch.
// Handler specific board fields are checked when the pools are built.
func (o *FarmOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if len(o.Boards) == 0 {
		errs = append(errs, fmt.Errorf("farm: at least one board must be declared"))
	}

	switches := map[string]power.Config{}
	for i := range o.Switches {
		sw := o.Switches[i]
		sw.Default()
		if err := sw.Validate(); err != nil {
			errs = append(errs, err)
		}
		if _, dup := switches[sw.Name]; dup {
			errs = append(errs, fmt.Errorf("farm: switch %q declared twice", sw.Name))
		}
		switches[sw.Name] = sw
	}

	boards := map[string]struct{}{}
	type outlet struct {
		sw   string
		port int
	}
	outlets := map[outlet]string{}
	for _, b := range o.Boards {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("farm: board name must not be empty"))
			continue
		}
		if _, dup := boards[b.Name]; dup {
			errs = append(errs, fmt.Errorf("farm: board %q declared twice", b.Name))
		}
		boards[b.Name] = struct{}{}

		if _, ok := switches[b.Switch]; !ok {
			errs = append(errs, fmt.Errorf("farm: board %q uses undeclared switch %q", b.Name, b.Switch))
			continue
		}
		key := outlet{b.Switch, b.PowerPort}
		if other, taken := outlets[key]; taken {
			errs = append(errs, fmt.Errorf("farm: boards %q and %q share port %d of switch %q", other, b.Name, b.PowerPort, b.Switch))
		}
		outlets[key] = b.Name
	}
	return errs
}
