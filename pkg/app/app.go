// Package app wraps cobra/viper/pflag into the small application framework
// shared by every binary in this repository: grouped flag sets, an optional
// --config file unmarshalled into the options struct, config hot-reload
// notifications, and the Complete/Validate/Run lifecycle.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RunFunc is the application entry point.
type RunFunc func() error

// Options abstracts the aggregated option struct of an application.
type Options interface {
	// Flags returns the grouped flag sets of the application.
	Flags() NamedFlagSets

	// Complete fills in any defaults derived from other options.
	Complete() error

	// Validate checks the final option values.
	Validate() error
}

// App encapsulates a runnable command-line application.
type App struct {
	name        string
	short       string
	description string
	opts        Options
	run         RunFunc
	onReload    func(fsnotify.Event)

	configFile string
}

// Option configures an App.
type Option func(*App)

// WithDescription sets the long description shown in help output.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions attaches the aggregated options struct.
func WithOptions(opts Options) Option {
	return func(a *App) { a.opts = opts }
}

// WithRunFunc sets the application entry point.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

// WithConfigReload registers a callback invoked after the config file changes
// and has been re-unmarshalled into the options struct.
func WithConfigReload(fn func(fsnotify.Event)) Option {
	return func(a *App) { a.onReload = fn }
}

// NewApp builds an application with the given name and short description.
func NewApp(name, short string, opts ...Option) *App {
	a := &App{name: name, short: short}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run parses flags, loads configuration and executes the application.
// It exits the process on error.
func (a *App) Run() {
	cmd := a.Command()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", a.name, err)
		os.Exit(1)
	}
}

// Command returns the cobra command for the application.
func (a *App) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.short,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCommand()
		},
	}

	cmd.Flags().StringVarP(&a.configFile, "config", "c", "", "Path to the configuration file.")

	if a.opts != nil {
		fss := a.opts.Flags()
		for _, name := range fss.Order {
			cmd.Flags().AddFlagSet(fss.FlagSet(name))
		}
	}

	return cmd
}

func (a *App) runCommand() error {
	if a.opts != nil {
		if err := a.loadConfig(); err != nil {
			return err
		}
		if err := a.opts.Complete(); err != nil {
			return err
		}
		if err := a.opts.Validate(); err != nil {
			return err
		}
	}

	if a.run == nil {
		return nil
	}
	return a.run()
}

// loadConfig merges the optional config file and environment into the
// options struct, and arms the fsnotify-backed reload watch.
func (a *App) loadConfig() error {
	v := viper.New()

	v.SetEnvPrefix(strings.ReplaceAll(strings.ToUpper(a.name), "-", "_"))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if a.configFile == "" {
		return nil
	}

	v.SetConfigFile(a.configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", a.configFile, err)
	}
	if err := v.Unmarshal(a.opts); err != nil {
		return fmt.Errorf("failed to unmarshal config file %s: %w", a.configFile, err)
	}

	if a.onReload != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			// Reload into the live options struct; consumers pick up the
			// fields they support changing at runtime.
			if err := v.Unmarshal(a.opts); err != nil {
				fmt.Fprintf(os.Stderr, "%s: config reload failed: %v\n", a.name, err)
				return
			}
			a.onReload(e)
		})
		v.WatchConfig()
	}

	return nil
}

// NamedFlagSets groups pflag sets by section for help output, preserving
// registration order.
type NamedFlagSets struct {
	Order []string
	sets  map[string]*pflag.FlagSet
}

// FlagSet returns the flag set for the given section, creating it on first
// use.
func (n *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if n.sets == nil {
		n.sets = map[string]*pflag.FlagSet{}
	}
	if _, ok := n.sets[name]; !ok {
		n.sets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		n.Order = append(n.Order, name)
	}
	return n.sets[name]
}
