package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/spf13/cobra"
)

var statCmd = &cobra.Command{
	Use:   "stat",
	Short: "Print the state of the relay queues.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		host, err := openHost()
		if err != nil {
			return err
		}

		queues := []struct {
			name string
			key  ipc.Key
		}{
			{"worker-to-runtime", cfg.Keys.WorkerToRuntime},
			{"worker-to-runtime (fallback)", cfg.Keys.WorkerToRuntimeFallback},
			{"runtime-to-worker", cfg.Keys.RuntimeToWorker},
			{"runtime-to-worker (fallback)", cfg.Keys.RuntimeToWorkerFallback},
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "QUEUE\tKEY\tMESSAGES\tBYTES\tLAST SENDER\tLAST RECEIVER")

		for _, q := range queues {
			queue, err := host.Open(q.key)
			if errors.Is(err, ipc.ErrNotExist) {
				fmt.Fprintf(tw, "%s\t%d\t-\t-\t-\t-\n", q.name, q.key)
				continue
			}

			if err != nil {
				return fmt.Errorf("open key %d: %w", q.key, err)
			}

			st, err := queue.Stat()
			if err != nil {
				return fmt.Errorf("stat key %d: %w", q.key, err)
			}

			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", q.name, q.key,
				st.Messages, st.Bytes, st.LastSenderPID, st.LastReceiverPID)
		}

		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statCmd)
}
