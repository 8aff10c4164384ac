// Package pipe implements anonymous pipes: a single-page ring buffer
// with reader- and writer-side Fdops_i adapters, reader/writer refcounts,
// and the EOF/SIGPIPE rules a shell's `|` depends on. Buffer mutations
// happen with the pipe's own lock held; the wait-queue operations that
// put a caller to sleep run outside that critical section, the same
// split package proc's ParkOn/wait.Queue_t pairing assumes everywhere
// else in the kernel core.
package pipe

import (
	"sync"

	"spikeos/circbuf"
	"spikeos/defs"
	"spikeos/fdops"
	"spikeos/limits"
	"spikeos/proc"
	"spikeos/wait"
)

// Pipe_t is the shared state between a pipe's read and write ends.
type Pipe_t struct {
	mu      sync.Mutex
	cb      circbuf.Circbuf_t
	readers int
	writers int
	readq   wait.Queue_t
	writeq  wait.Queue_t
}

// Mk allocates a pipe with one reader and one writer reference, the
// state the SYS_PIPE2 syscall hands back as a (read fd, write fd) pair.
// Returns -EMFILE if the system-wide live-pipe count is exhausted.
func Mk() (*Reader_t, *Writer_t, defs.Err_t) {
	if !limits.Syslimit.Pipes.Take() {
		return nil, nil, -defs.EMFILE
	}
	p := &Pipe_t{readers: 1, writers: 1}
	p.cb.Cb_init(limits.Syslimit.PipeBufSize)
	return &Reader_t{p: p}, &Writer_t{p: p}, 0
}

// Reader_t is the read end's Fdops_i.
type Reader_t struct{ p *Pipe_t }

// Writer_t is the write end's Fdops_i.
type Writer_t struct{ p *Pipe_t }

// Read blocks while the buffer is empty and writers remain, returns 0
// (EOF) once the buffer is empty and no writer is left, otherwise
// copies out whatever is available and wakes any blocked writer.
func (r *Reader_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	p := r.p
	for {
		p.mu.Lock()
		if !p.cb.Empty() {
			n, err := p.cb.Copyout(dst)
			p.mu.Unlock()
			p.writeq.Wake_up_all()
			return n, err
		}
		if p.writers == 0 {
			p.mu.Unlock()
			return 0, 0
		}
		p.mu.Unlock()
		proc.Current().ParkOn(&p.readq)
	}
}

// Write raises SIGPIPE and fails immediately if there are no readers;
// otherwise blocks while the buffer is full and readers remain, copies
// in what it can, and wakes any blocked reader.
func (w *Writer_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	p := w.p
	for {
		p.mu.Lock()
		if p.readers == 0 {
			p.mu.Unlock()
			if self := proc.Current(); self != nil {
				proc.Signal(self.Pid, defs.SIGPIPE)
			}
			return -1, -defs.EPIPE
		}
		if !p.cb.Full() {
			n, err := p.cb.Copyin(src)
			p.mu.Unlock()
			p.readq.Wake_up_all()
			return n, err
		}
		p.mu.Unlock()
		proc.Current().ParkOn(&p.writeq)
	}
}

// Close drops this end's reader reference; on the last reader, wakes
// any writer blocked on a full buffer so it can observe readers==0 and
// fail with EPIPE instead of hanging forever.
func (r *Reader_t) Close() defs.Err_t {
	p := r.p
	p.mu.Lock()
	p.readers--
	last := p.readers == 0
	both := last && p.writers == 0
	p.mu.Unlock()
	if last {
		p.writeq.Wake_up_all()
	}
	if both {
		p.cb.Cb_release()
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

// Close drops this end's writer reference; on the last writer, wakes
// any reader blocked on an empty buffer so it observes EOF.
func (w *Writer_t) Close() defs.Err_t {
	p := w.p
	p.mu.Lock()
	p.writers--
	last := p.writers == 0
	both := last && p.readers == 0
	p.mu.Unlock()
	if last {
		p.readq.Wake_up_all()
	}
	if both {
		p.cb.Cb_release()
		limits.Syslimit.Pipes.Give()
	}
	return 0
}

func (r *Reader_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (w *Writer_t) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.EINVAL }

func (r *Reader_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }
func (w *Writer_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.ESPIPE }

func (r *Reader_t) Fstat(fdops.StatAccessor) defs.Err_t { return 0 }
func (w *Writer_t) Fstat(fdops.StatAccessor) defs.Err_t { return 0 }

func (r *Reader_t) Truncate(uint) defs.Err_t { return -defs.EINVAL }
func (w *Writer_t) Truncate(uint) defs.Err_t { return -defs.EINVAL }

// Reopen bumps this end's refcount, implementing dup/dup2 over a pipe
// fd; the fd table's shared-refcount slot design means Reopen only
// needs to keep the pipe's own reader/writer counters in sync with it.
func (r *Reader_t) Reopen() defs.Err_t {
	r.p.mu.Lock()
	r.p.readers++
	r.p.mu.Unlock()
	return 0
}

func (w *Writer_t) Reopen() defs.Err_t {
	w.p.mu.Lock()
	w.p.writers++
	w.p.mu.Unlock()
	return 0
}

func (r *Reader_t) Pathi() fdops.Inoder { return nil }
func (w *Writer_t) Pathi() fdops.Inoder { return nil }

func (r *Reader_t) Pollone(events fdops.Ready_t) (fdops.Ready_t, defs.Err_t) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	var ready fdops.Ready_t
	if !r.p.cb.Empty() || r.p.writers == 0 {
		ready |= fdops.R_READ
	}
	return ready & events, 0
}

func (w *Writer_t) Pollone(events fdops.Ready_t) (fdops.Ready_t, defs.Err_t) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	var ready fdops.Ready_t
	if !w.p.cb.Full() || w.p.readers == 0 {
		ready |= fdops.R_WRITE
	}
	return ready & events, 0
}
