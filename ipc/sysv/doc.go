// Package sysv implements ipc.Host on System V message queues and semaphores.
// It is only functional on linux/amd64 and linux/arm64; elsewhere New returns
// a host whose operations fail with ipc.ErrUnsupported.
package sysv
