// Package fdops defines the interfaces an open-file object (package fd)
// dispatches through: file operations (Fdops_i) and user/kernel I/O
// buffers (Userio_i). Kept separate from fd itself so vfs, pipe,
// netstub, and gpustub can each implement Fdops_i without importing fd
// and creating a cycle.
package fdops

import "spikeos/defs"

// Userio_i abstracts a source or sink of bytes crossing the user/kernel
// boundary: a real user-memory buffer (vm.Userbuf_t), or an in-kernel
// buffer standing in for one (vm.Fakeubuf_t).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of readiness conditions a poll/select caller can
// wait for.
type Ready_t uint8

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
	R_HUP   Ready_t = 1 << 3
)

// Fdops_i is implemented by every open-file object: regular files,
// directories, pipes, sockets, and the console device. Reopen supports
// dup/dup2 refcounting.
type Fdops_i interface {
	Close() defs.Err_t
	Read(Userio_i) (int, defs.Err_t)
	Write(Userio_i) (int, defs.Err_t)
	Lseek(off, whence int) (int, defs.Err_t)
	Fstat(StatAccessor) defs.Err_t
	Truncate(newlen uint) defs.Err_t
	Reopen() defs.Err_t
	Pathi() Inoder
	Pollone(events Ready_t) (Ready_t, defs.Err_t)
}

// Inoder is implemented by vfs inodes so the syscall layer can compare
// two fds for "same file" without depending on the full Fdops_i.
type Inoder interface {
	Inum() int
}

// StatAccessor is satisfied by *stat.Stat_t; kept as an interface here
// so fdops need not import package stat.
type StatAccessor interface {
	Wmode(uint)
	Wsize(uint)
	Wino(uint)
	Wrdev(uint)
}
