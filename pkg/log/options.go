package log

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	// Name is attached to every entry as the logger name.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is one of debug, info, warn or error.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is json or console.
	Format string `json:"format,omitempty" mapstructure:"format"`

	EnableColor bool `json:"enable-color,omitempty" mapstructure:"enable-color"`

	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip is the number of wrapper frames hidden from caller annotation.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// OutputPaths lists sinks; "stdout" and "stderr" are accepted.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

// NewOptions returns logger options with defaults suited for a foreground
// dispatcher process.
func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  2, // package-level helpers plus the zapLogger method
		OutputPaths: []string{"stdout"},
	}
}

// Validate checks level and format.
func (o *Options) Validate() []error {
	var errs []error

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(o.Level)); err != nil {
		errs = append(errs, fmt.Errorf("--log.level: %w", err))
	}
	if !slices.Contains([]string{"json", "console"}, o.Format) {
		errs = append(errs, fmt.Errorf("--log.format must be 'json' or 'console', got %q", o.Format))
	}

	return errs
}

// AddFlags binds the options to fs under the "log." prefix.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Logger name attached to every entry.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level to output: debug, info, warn or error.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Output format: json or console.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colorize levels in console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the file:line caller field.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Number of caller frames to skip.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Output sinks, e.g. stdout or /var/log/boardfarm.log.")
}
