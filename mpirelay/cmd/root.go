// Package cmd provides the command-line interface of mpirelay.
package cmd

import (
	"fmt"
	"os"

	"github.com/sarchlab/mpirelay/config"
	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/ipc/memipc"
	"github.com/sarchlab/mpirelay/ipc/sysv"
	"github.com/sarchlab/mpirelay/logging"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var (
	configPath string
	logLevel   string
	hostName   string

	cfg    config.Config
	logger logging.Logger

	// memHost is shared by every command of one process.
	memHost = memipc.NewHost()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mpirelay",
	Short: "mpirelay moves messages between MPI workers and the runtime.",
	Long: `mpirelay runs the runtime side of the MPI message relay and ` +
		`offers tools to inspect and clean up the IPC queues it uses.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}

		if cmd.Flags().Changed("host") {
			loaded.Host = hostName
		}

		if err := loaded.Validate(); err != nil {
			return err
		}

		level, err := logging.ParseLevel(loaded.LogLevel)
		if err != nil {
			return err
		}

		cfg = loaded
		logger = logging.NewText(os.Stderr, level)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to a TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&hostName, "host", config.HostSysV,
		"IPC host: sysv or mem")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func openHost() (ipc.Host, error) {
	switch cfg.Host {
	case config.HostSysV:
		return sysv.New(), nil
	case config.HostMemory:
		return memHost.Process(os.Getpid()), nil
	}

	return nil, fmt.Errorf("unknown host %q", cfg.Host)
}
