package cmd

import (
	"fmt"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the relay queues and semaphores left by crashed runs.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}

		keys := cfg.Keys

		err = ipc.RemoveKeys(host,
			keys.WorkerToRuntime, keys.WorkerToRuntimeFallback,
			keys.RuntimeToWorker, keys.RuntimeToWorkerFallback)
		if err != nil {
			return err
		}

		for _, key := range []ipc.Key{keys.WorkerSemaphore, keys.RuntimeSemaphore} {
			sem, err := host.Semaphore(key)
			if err != nil {
				return fmt.Errorf("semaphore %d: %w", key, err)
			}

			if err := sem.Remove(); err != nil {
				return fmt.Errorf("semaphore %d: %w", key, err)
			}
		}

		logger.Info(cmd.Context(), "relay identities removed")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
