package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"certctl/internal/api"
	"certctl/internal/config"
	"certctl/internal/render"
	"certctl/pkg/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	theme   render.Theme
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "certctl",
	Short: "Run and monitor certification test runs from the command line",
	Long: `certctl drives a remote certification test backend: it creates and
starts test runs, mirrors their execution state over the live feed and
renders progress, and manages projects and run history.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed connections)
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}

		level := logging.LevelWarn
		if cfg.Verbose {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)

		theme = render.NewTheme(cfg.NoColor)
		return nil
	},
}

// exitError carries a specific process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

// Error implements the error interface.
func (e *exitError) Error() string {
	return e.msg
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// newClient builds the API client for the configured backend.
func newClient() *api.Client {
	return api.NewClient(cfg.Hostname)
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "certctl version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./certctl.yaml, then ~/.config/certctl/certctl.yaml)")
	rootCmd.PersistentFlags().String("hostname", config.DefaultHostname, "backend hostname or hostname:port")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAbortCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newProjectsCmd())
	rootCmd.AddCommand(newTestsCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newRunLogCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
}
