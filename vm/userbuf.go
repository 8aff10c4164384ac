package vm

import (
	"sync"

	"spikeos/bounds"
	"spikeos/defs"
	"spikeos/res"
)

// Userbuf_t assists reading and writing user memory. Address lookups
// and page-ins are atomic with respect to page faults. Grounded on the
// teacher's vm/userbuf.go Userbuf_t, with the bounds/res call swapped
// for the real bounded res.Counter (see DESIGN.md's bounds/res entry).
type Userbuf_t struct {
	userva uintptr
	len    int
	off    int
	as     *Vm_t
}

// Ub_init initializes the buffer to describe [uva, uva+length) in as.
func (ub *Userbuf_t) Ub_init(as *Vm_t, uva uintptr, length int) {
	if length < 0 {
		panic("negative length")
	}
	ub.userva = uva
	ub.len = length
	ub.off = 0
	ub.as = as
}

// Remain returns the number of unread bytes left in the buffer.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

// Uioread copies data from user memory into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(dst, false)
}

// Uiowrite copies data from src into user memory.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(src, true)
}

func (ub *Userbuf_t) tx(buf []uint8, write bool) (int, defs.Err_t) {
	ret := 0
	cnt := &res.Counter{}
	for len(buf) != 0 && ub.off != ub.len {
		if !cnt.Add(bounds.B_USERBUF_T__TX) {
			return ret, -defs.ENOHEAP
		}
		va := ub.userva + uintptr(ub.off)
		ubuf, err := ub.as.Userdmap8_inner(va, write)
		if err != 0 {
			return ret, err
		}
		if end := ub.off + len(ubuf); end > ub.len {
			ubuf = ubuf[:ub.len-ub.off]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
		if c == 0 {
			break
		}
	}
	return ret, 0
}

// Fakeubuf_t implements the same Userio_i contract as Userbuf_t but
// operates on an in-kernel buffer; used when the kernel needs to treat
// internal memory (e.g. a pipe's staging area) as if it were a user
// buffer.
type Fakeubuf_t struct {
	buf []uint8
	len int
}

// Fake_init sets up the fake buffer over buf.
func (fb *Fakeubuf_t) Fake_init(buf []uint8) {
	fb.buf = buf
	fb.len = len(buf)
}

// Remain returns the number of bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.buf) }

// Totalsz returns the total length of the fake buffer.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []uint8, tofbuf bool) (int, defs.Err_t) {
	var c int
	if tofbuf {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []uint8) (int, defs.Err_t) { return fb.tx(dst, false) }

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []uint8) (int, defs.Err_t) { return fb.tx(src, true) }

// Ubpool recycles Userbuf_t values across syscalls to reduce allocation
// churn, the same role as Ubpool.
var Ubpool = sync.Pool{New: func() interface{} { return new(Userbuf_t) }}
