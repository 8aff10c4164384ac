// Package limits centralizes every size knob the kernel core depends on,
// so "how big is the process table" has exactly one answer looked up
// by proc/fd/pipe/vfs/kheap instead of being duplicated as scattered
// constants.
package limits

import "unsafe"
import "sync/atomic"

// Lhits counts how many times a live Sysatomic_t limit refused an
// allocation; useful for diagnosing a system that is thrashing against a
// configured cap.
var Lhits int

// Sysatomic_t is a live resource counter: Taken/Given atomically
// decrement/increment it, refusing a Taken that would drive it negative.
type Sysatomic_t int64

// Syslimit_t tracks every system-wide resource bound the kernel core
// relies on: process table size (fixed, e.g. 64 slots), per-process FD
// table size, pipe ring-buffer size, kernel heap growth ceiling, the
// physical frame bitmap's fixed capacity (covering at least 64 MiB),
// and the VFS inode table's initial size and growth cap (starts at 64
// slots and doubles up to a fixed cap).
type Syslimit_t struct {
	// Sysprocs is the size of the process table.
	Sysprocs int
	// MaxFds is the size of a process's fd array.
	MaxFds int
	// PipeBufSize is the ring-buffer capacity of one pipe, in bytes.
	PipeBufSize int
	// HeapMax is the kernel heap's maximum virtual size, in bytes.
	HeapMax int
	// FrameBits is the physical frame bitmap's fixed bit capacity.
	FrameBits int
	// InodeInitial is the VFS inode table's starting slot count.
	InodeInitial int
	// InodeCap is the VFS inode table's maximum slot count.
	InodeCap int
	// DirentInitial is a new directory's starting dirent-array capacity.
	DirentInitial int
	// Sockets bounds the netstub loopback socket table.
	Sockets Sysatomic_t
	// Pipes bounds the number of live pipes system wide.
	Pipes Sysatomic_t
	// PathMax bounds how many bytes a syscall will read out of a user
	// pointer while looking for a path's terminating NUL.
	PathMax int
}

// Syslimit is the process-wide configured limit set.
var Syslimit *Syslimit_t = MkSysLimit()

// MkSysLimit returns the default limit set used when no override is
// supplied (tests may construct their own smaller Syslimit_t to exercise
// exhaustion paths without allocating the full default sizes).
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs:      64,
		MaxFds:        64,
		PipeBufSize:   4096,
		HeapMax:       16 * 1024 * 1024,
		FrameBits:     64 * 1024 * 1024 / 4096, // 64 MiB / PGSIZE = 16384
		InodeInitial:  64,
		InodeCap:      1 << 16,
		DirentInitial: 8,
		Sockets:       1024,
		Pipes:         1e4,
		PathMax:       256,
	}
}

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

// Taken tries to decrement the limit by the provided amount, returning
// true on success and leaving the counter unchanged on failure.
func (s *Sysatomic_t) Taken(n uint) bool {
	g := atomic.AddInt64(s.aptr(), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), int64(n))
	Lhits++
	return false
}

// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
