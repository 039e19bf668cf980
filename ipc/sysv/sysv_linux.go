//go:build linux && (amd64 || arm64)

package sysv

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sarchlab/mpirelay/ipc"
)

const (
	permissions = 0o666

	semGetVal = 12
	semSetVal = 16
	semUndo   = 0x1000

	mtypeSize = 8
)

// msqidDS mirrors struct msqid64_ds on 64-bit Linux.
type msqidDS struct {
	perm    [48]byte
	stime   int64
	rtime   int64
	ctime   int64
	cbytes  uint64
	qnum    uint64
	qbytes  uint64
	lspid   int32
	lrpid   int32
	unused4 uint64
	unused5 uint64
}

// sembuf mirrors struct sembuf.
type sembuf struct {
	num uint16
	op  int16
	flg int16
}

// Host talks to the kernel IPC namespace of the calling process.
type Host struct{}

// New returns the System V host.
func New() *Host {
	return &Host{}
}

// Create makes a queue exclusively.
func (h *Host) Create(key ipc.Key) (ipc.Queue, error) {
	id, err := msgget(key, unix.IPC_CREAT|unix.IPC_EXCL|permissions)
	if err != nil {
		return nil, fmt.Errorf("msgget %d: %w", key, err)
	}

	return &Queue{key: key, id: id}, nil
}

// Open attaches to an existing queue.
func (h *Host) Open(key ipc.Key) (ipc.Queue, error) {
	id, err := msgget(key, permissions)
	if err != nil {
		return nil, fmt.Errorf("msgget %d: %w", key, err)
	}

	return &Queue{key: key, id: id}, nil
}

// Remove deletes the queue at key.
func (h *Host) Remove(key ipc.Key) error {
	id, err := msgget(key, permissions)
	if err != nil {
		return fmt.Errorf("msgget %d: %w", key, err)
	}

	_, _, errno := unix.Syscall(unix.SYS_MSGCTL, uintptr(id), uintptr(unix.IPC_RMID), 0)
	if errno != 0 {
		return fmt.Errorf("msgctl %d: %w", key, mapErrno(errno))
	}

	return nil
}

// Semaphore opens the one-element semaphore set at key. The process that
// creates the set initialises it to 1.
func (h *Host) Semaphore(key ipc.Key) (ipc.Semaphore, error) {
	id, errno := semget(key, unix.IPC_CREAT|unix.IPC_EXCL|permissions)
	if errno == 0 {
		_, _, errno = unix.Syscall6(unix.SYS_SEMCTL,
			uintptr(id), 0, semSetVal, 1, 0, 0)
		if errno != 0 {
			return nil, fmt.Errorf("semctl %d: %w", key, mapErrno(errno))
		}

		return &Semaphore{key: key, id: id}, nil
	}

	if errno != unix.EEXIST {
		return nil, fmt.Errorf("semget %d: %w", key, mapErrno(errno))
	}

	id, errno = semget(key, permissions)
	if errno != 0 {
		return nil, fmt.Errorf("semget %d: %w", key, mapErrno(errno))
	}

	return &Semaphore{key: key, id: id}, nil
}

// Queue is a System V message queue.
type Queue struct {
	key ipc.Key
	id  int
}

// Key returns the queue key.
func (q *Queue) Key() ipc.Key {
	return q.key
}

// Send enqueues body with message type mtype.
func (q *Queue) Send(mtype int64, body []byte) error {
	buf := make([]byte, mtypeSize+len(body))
	binary.NativeEndian.PutUint64(buf[:mtypeSize], uint64(mtype))
	copy(buf[mtypeSize:], body)

	_, _, errno := unix.Syscall6(unix.SYS_MSGSND,
		uintptr(q.id),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(body)),
		0, 0, 0)
	if errno != 0 {
		return mapErrno(errno)
	}

	return nil
}

// Recv dequeues the oldest message of type mtype into buf.
func (q *Queue) Recv(mtype int64, buf []byte, noWait bool) (int, error) {
	raw := make([]byte, mtypeSize+len(buf))

	flags := 0
	if noWait {
		flags |= unix.IPC_NOWAIT
	}

	n, _, errno := unix.Syscall6(unix.SYS_MSGRCV,
		uintptr(q.id),
		uintptr(unsafe.Pointer(&raw[0])),
		uintptr(len(buf)),
		uintptr(mtype),
		uintptr(flags),
		0)
	if errno != 0 {
		return 0, mapErrno(errno)
	}

	return copy(buf, raw[mtypeSize:mtypeSize+int(n)]), nil
}

// Stat reads the queue's msqid_ds.
func (q *Queue) Stat() (ipc.QueueStat, error) {
	var ds msqidDS

	_, _, errno := unix.Syscall(unix.SYS_MSGCTL,
		uintptr(q.id), uintptr(unix.IPC_STAT), uintptr(unsafe.Pointer(&ds)))
	if errno != 0 {
		return ipc.QueueStat{}, mapErrno(errno)
	}

	return ipc.QueueStat{
		Messages:        ds.qnum,
		Bytes:           ds.cbytes,
		LastSenderPID:   int(ds.lspid),
		LastReceiverPID: int(ds.lrpid),
	}, nil
}

// Semaphore is a one-element System V semaphore set used as a lock.
type Semaphore struct {
	key ipc.Key
	id  int
}

// Lock decrements the semaphore, waiting while it is zero.
func (s *Semaphore) Lock() error {
	return s.op(-1)
}

// Unlock increments the semaphore.
func (s *Semaphore) Unlock() error {
	return s.op(1)
}

// Value returns the current semaphore value.
func (s *Semaphore) Value() (int, error) {
	v, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(s.id), 0, semGetVal, 0, 0, 0)
	if errno != 0 {
		return 0, mapErrno(errno)
	}

	return int(v), nil
}

// Remove deletes the semaphore set.
func (s *Semaphore) Remove() error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL,
		uintptr(s.id), 0, uintptr(unix.IPC_RMID), 0, 0, 0)
	if errno != 0 {
		return mapErrno(errno)
	}

	return nil
}

func (s *Semaphore) op(delta int16) error {
	b := sembuf{num: 0, op: delta, flg: semUndo}

	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP,
			uintptr(s.id), uintptr(unsafe.Pointer(&b)), 1)
		if errno == unix.EINTR {
			continue
		}

		if errno != 0 {
			return fmt.Errorf("semop %d: %w", s.key, mapErrno(errno))
		}

		return nil
	}
}

func msgget(key ipc.Key, flags int) (int, error) {
	id, _, errno := unix.Syscall(unix.SYS_MSGGET, uintptr(key), uintptr(flags), 0)
	if errno != 0 {
		return 0, mapErrno(errno)
	}

	return int(id), nil
}

func semget(key ipc.Key, flags int) (int, unix.Errno) {
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), 1, uintptr(flags))
	return int(id), errno
}

func mapErrno(errno unix.Errno) error {
	switch errno {
	case unix.EINTR:
		return ipc.ErrInterrupted
	case unix.ENOMSG:
		return ipc.ErrNoMessage
	case unix.EEXIST:
		return ipc.ErrExist
	case unix.ENOENT:
		return ipc.ErrNotExist
	case unix.EIDRM, unix.EINVAL:
		return fmt.Errorf("%w: %v", ipc.ErrRemoved, errno)
	case unix.E2BIG:
		return ipc.ErrTooBig
	}

	return errno
}
