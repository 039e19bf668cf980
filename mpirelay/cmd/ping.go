package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/sarchlab/mpirelay/bridge"
	"github.com/sarchlab/mpirelay/wire"
	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Run a worker that bounces a vector off a peer rank.",
	Long: "`ping` initializes a worker, exchanges a vector of doubles with " +
		"the peer rank through a running relay, checks it and finalizes. " +
		"The lower rank sends first.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rank, _ := cmd.Flags().GetInt32("rank")
		peer, _ := cmd.Flags().GetInt32("peer")
		count, _ := cmd.Flags().GetInt32("count")
		tag, _ := cmd.Flags().GetInt32("tag")

		if rank == peer {
			return fmt.Errorf("rank and peer must differ")
		}

		if count <= 0 {
			return fmt.Errorf("count must be positive")
		}

		return ping(cmd.OutOrStdout(), rank, peer, count, tag)
	},
}

func init() {
	pingCmd.Flags().Int32("rank", 0, "rank of this worker")
	pingCmd.Flags().Int32("peer", 1, "rank of the peer worker")
	pingCmd.Flags().Int32("count", 4, "number of doubles to exchange")
	pingCmd.Flags().Int32("tag", 0, "message tag")
	rootCmd.AddCommand(pingCmd)
}

func ping(out io.Writer, rank, peer, count, tag int32) error {
	host, err := openHost()
	if err != nil {
		return err
	}

	worker := bridge.MakeBuilder().
		WithHost(host).
		WithKeys(cfg.Keys).
		WithStoreCapacity(cfg.StoreCapacity).
		WithLogger(logger).
		Build(fmt.Sprintf("Rank%d", rank))

	if err := worker.Init(rank); err != nil {
		return err
	}

	jobID, _ := worker.Job()

	sent := make([]float64, count)
	for i := range sent {
		sent[i] = float64(rank)*1000 + float64(i)
	}

	payload, err := wire.Pack(wire.Double, sent)
	if err != nil {
		return err
	}

	buf := make([]byte, len(payload))
	start := time.Now()

	if rank < peer {
		err = sendThenRecv(worker, payload, buf, count, peer, tag, jobID)
	} else {
		err = recvThenSend(worker, buf, count, peer, tag, jobID)
	}

	if err != nil {
		return err
	}

	elapsed := time.Since(start)

	in := make([]float64, count)
	if err := wire.Unpack(wire.Double, buf, in); err != nil {
		return err
	}

	if rank < peer {
		for i := range in {
			if in[i] != sent[i] {
				return fmt.Errorf("element %d came back as %v, sent %v", i, in[i], sent[i])
			}
		}
	}

	fmt.Fprintf(out, "rank %d of job %d: %d doubles with rank %d in %v\n",
		rank, jobID, count, peer, elapsed)

	return worker.Finalize()
}

func sendThenRecv(
	w *bridge.Context,
	payload, buf []byte,
	count, peer, tag, jobID int32,
) error {
	if err := w.Send(payload, count, wire.Double, peer, tag, jobID); err != nil {
		return err
	}

	return w.Recv(buf, count, wire.Double, peer, tag, jobID)
}

func recvThenSend(
	w *bridge.Context,
	buf []byte,
	count, peer, tag, jobID int32,
) error {
	if err := w.Recv(buf, count, wire.Double, peer, tag, jobID); err != nil {
		return err
	}

	return w.Send(buf, count, wire.Double, peer, tag, jobID)
}
