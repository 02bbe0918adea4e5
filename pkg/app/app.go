// Package app builds cobra commands whose options come from flags, a config
// file and the environment, in increasing order of precedence for flags.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"
)

// RunFunc starts the application once options are complete and valid.
type RunFunc func() error

// App is a command-line application.
type App struct {
	name        string
	shortDesc   string
	description string
	envPrefix   string
	options     NamedFlagSetOptions
	run         RunFunc
	args        cobra.PositionalArgs

	configFile string
	viper      *viper.Viper
	cmd        *cobra.Command
}

type Option func(*App)

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithEnvPrefix sets the environment prefix; "http.addr" is then read from
// <PREFIX>_HTTP_ADDR.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) { a.envPrefix = prefix }
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// NewApp builds the application and its root command.
func NewApp(name, shortDesc string, opts ...Option) *App {
	a := &App{
		name:      name,
		shortDesc: shortDesc,
		envPrefix: strings.ToUpper(strings.ReplaceAll(name, "-", "_")),
		viper:     viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on failure.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.name, err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.shortDesc,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
	}

	global := namedFlagSets.FlagSet("global")
	global.StringVarP(&a.configFile, "config", "c", "", "Read options from this YAML file. Flags take precedence.")
	global.BoolP("help", "h", false, fmt.Sprintf("Help for %s.", a.name))

	fs := cmd.Flags()
	for _, f := range namedFlagSets.FlagSets {
		fs.AddFlagSet(f)
	}
	fs.SetNormalizeFunc(cliflag.WordSepNormalizeFunc)

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	if a.run != nil {
		cmd.RunE = a.runCommand
	}
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if a.options != nil {
		if err := a.loadOptions(cmd.Flags()); err != nil {
			return err
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}
	return a.run()
}

// loadOptions merges the config file, environment and flags into options.
func (a *App) loadOptions(fs *pflag.FlagSet) error {
	v := a.viper
	v.SetEnvPrefix(a.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if a.configFile != "" {
		v.SetConfigFile(a.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.configFile, err)
		}
	}

	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		if err := v.BindEnv(f.Name); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	// Only flags given on the command line override the file.
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	return nil
}
