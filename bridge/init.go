package bridge

import (
	"context"
	"fmt"

	"github.com/sarchlab/mpirelay/ipc"
	"github.com/sarchlab/mpirelay/split"
	"github.com/sarchlab/mpirelay/wire"
)

// Init connects the worker of the given rank to the runtime. It selects a
// queue pair under the worker semaphore, announces itself, and waits for the
// runtime to assign a job.
func (c *Context) Init(rank int32) error {
	switch c.state {
	case StateReady:
		return fmt.Errorf("%w: already initialized", ErrInitFailed)
	case StateFinalized:
		return ErrFinalized
	}

	sem, err := c.host.Semaphore(c.keys.WorkerSemaphore)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	var pair *ipc.Pair

	err = ipc.WithSemaphore(sem, func() error {
		pair, err = ipc.AttachPair(c.host, c.keys)
		if err != nil {
			return err
		}

		hello := &wire.Message{
			Tag:  int64(pair.Out.ActiveKey),
			Kind: wire.KindInit,
			Src:  rank,
			Dest: rank,
		}

		_, err := split.WriteMessage(pair.Out, c.splitter, hello)

		return err
	})
	if err != nil {
		c.log.Error(context.Background(), "init failed", "rank", rank, "err", err)
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	ack, err := split.ReadMessage(pair.In, int64(pair.In.ActiveKey), true)
	if err != nil {
		return fmt.Errorf("%w: waiting for job assignment: %w", ErrInitFailed, err)
	}

	if ack.Kind != wire.KindInit {
		return fmt.Errorf("%w: expected INIT acknowledgement, got %v",
			ErrInitFailed, ack.Kind)
	}

	if ack.JobID == wire.InitRefused {
		c.log.Error(context.Background(), "init refused by runtime", "rank", rank)
		return fmt.Errorf("%w: runtime refused rank %d", ErrInitFailed, rank)
	}

	c.pair = pair
	c.rank = rank
	c.jobID = ack.JobID
	c.jobCount = ack.Src
	c.state = StateReady

	c.log.Info(context.Background(), "bridge ready",
		"rank", rank,
		"job", c.jobID,
		"job_count", c.jobCount,
		"out_key", pair.Out.ActiveKey,
		"in_key", pair.In.ActiveKey)

	return nil
}

// Finalize tells the runtime this worker is done. The context cannot be used
// afterwards.
func (c *Context) Finalize() error {
	if err := c.mustBeReady(); err != nil {
		return err
	}

	bye := &wire.Message{
		Kind:  wire.KindFinalize,
		JobID: c.jobID,
		Src:   c.rank,
		Dest:  c.rank,
	}

	err := c.send(bye)
	c.state = StateFinalized

	if n := c.store.Len(); n > 0 {
		c.log.Warn(context.Background(), "finalized with unclaimed messages", "count", n)
	}

	c.store.Clear()

	return err
}

// Barrier synchronizes the processes of the worker's own job. Barriers on any
// other job fail with ErrWrongJob.
func (c *Context) Barrier(jobID int32) error {
	if err := c.mustBeReady(); err != nil {
		return err
	}

	if jobID != c.jobID {
		return fmt.Errorf("%w: job %d, own job %d", ErrWrongJob, jobID, c.jobID)
	}

	return c.comm.Barrier()
}
