//go:build !(linux && (amd64 || arm64))

package sysv

import "github.com/sarchlab/mpirelay/ipc"

// Host fails every operation on unsupported platforms.
type Host struct{}

// New returns the unsupported host.
func New() *Host {
	return &Host{}
}

// Create is unsupported.
func (h *Host) Create(ipc.Key) (ipc.Queue, error) { return nil, ipc.ErrUnsupported }

// Open is unsupported.
func (h *Host) Open(ipc.Key) (ipc.Queue, error) { return nil, ipc.ErrUnsupported }

// Remove is unsupported.
func (h *Host) Remove(ipc.Key) error { return ipc.ErrUnsupported }

// Semaphore is unsupported.
func (h *Host) Semaphore(ipc.Key) (ipc.Semaphore, error) { return nil, ipc.ErrUnsupported }
