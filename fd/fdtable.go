package fd

import (
	"sync"

	"spikeos/defs"
	"spikeos/limits"
)

// Fdtable_t is a process's open file descriptor table: a fixed-size
// array of slots guarded by one mutex, the same granularity a
// process-wide syscall serializes on (open/close/dup never need finer
// locking than "one process touches its own table at a time"). Each
// slot's refcount is shared with every other slot aliasing the same
// underlying Fd_t (dup/dup2), so closing one alias never disturbs the
// others; the Fdops_i only actually closes once the last alias drops.
type Fdtable_t struct {
	sync.Mutex
	slots []slot
}

type slot struct {
	fd  *Fd_t
	ref *int
}

// MkFdtable allocates an empty table sized to limits.Syslimit.MaxFds.
func MkFdtable() *Fdtable_t {
	return &Fdtable_t{slots: make([]slot, limits.Syslimit.MaxFds)}
}

// Alloc_fd installs f at the lowest-numbered free slot at or above min
// and returns that number. Returns -EMFILE if the table is full.
func (t *Fdtable_t) Alloc_fd(min int, f *Fd_t) (int, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	for i := min; i < len(t.slots); i++ {
		if t.slots[i].fd == nil {
			one := 1
			t.slots[i] = slot{fd: f, ref: &one}
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// Close_fd removes fdn from the table and drops its shared refcount,
// closing the underlying Fdops_i once no slot references it anymore.
// Returns -EBADF if fdn is not open.
func (t *Fdtable_t) Close_fd(fdn int) defs.Err_t {
	t.Lock()
	if fdn < 0 || fdn >= len(t.slots) || t.slots[fdn].fd == nil {
		t.Unlock()
		return -defs.EBADF
	}
	f := t.slots[fdn].fd
	ref := t.slots[fdn].ref
	*ref--
	last := *ref == 0
	t.slots[fdn] = slot{}
	t.Unlock()
	if last {
		return f.Fops.Close()
	}
	return 0
}

// Get returns the Fd_t installed at fdn, or nil if none.
func (t *Fdtable_t) Get(fdn int) *Fd_t {
	t.Lock()
	defer t.Unlock()
	if fdn < 0 || fdn >= len(t.slots) {
		return nil
	}
	return t.slots[fdn].fd
}

// Dup installs the same underlying Fd_t already at oldfdn into newfdn,
// closing whatever was there first and sharing oldfdn's refcount,
// implementing dup2-style aliasing.
func (t *Fdtable_t) Dup(oldfdn, newfdn int) defs.Err_t {
	t.Lock()
	if oldfdn < 0 || oldfdn >= len(t.slots) || t.slots[oldfdn].fd == nil {
		t.Unlock()
		return -defs.EBADF
	}
	if newfdn < 0 || newfdn >= len(t.slots) {
		t.Unlock()
		return -defs.EBADF
	}
	displaced := t.slots[newfdn]
	src := t.slots[oldfdn]
	*src.ref++
	t.slots[newfdn] = src
	t.Unlock()
	if displaced.fd != nil {
		*displaced.ref--
		if *displaced.ref == 0 {
			return displaced.fd.Fops.Close()
		}
	}
	return 0
}

// CloseAll closes every open descriptor; called by proc_kill/exit.
func (t *Fdtable_t) CloseAll() {
	t.Lock()
	cur := make([]slot, len(t.slots))
	copy(cur, t.slots)
	for i := range t.slots {
		t.slots[i] = slot{}
	}
	t.Unlock()
	for _, s := range cur {
		if s.fd == nil {
			continue
		}
		*s.ref--
		if *s.ref == 0 {
			s.fd.Fops.Close()
		}
	}
}

// Fork clones the table's slot assignments into a fresh table, sharing
// refcounts with the parent. proc.CreateUserProcess does not use it: a
// new user process gets freshly opened console fds instead.
func (t *Fdtable_t) Fork() *Fdtable_t {
	t.Lock()
	defer t.Unlock()
	n := &Fdtable_t{slots: make([]slot, len(t.slots))}
	for i, s := range t.slots {
		if s.fd != nil {
			*s.ref++
		}
		n.slots[i] = s
	}
	return n
}
