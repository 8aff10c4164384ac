// Package mem is the kernel's physical frame allocator: a fixed-size
// bitmap tracking which of the machine's physical page frames are free.
// It keeps the Pa_t type and the PTE_* flag bits and PGSIZE/PGSHIFT
// constants from an earlier per-CPU refcounted free-list allocator, but
// replaces that allocator with a single bitmap: the refcounted version
// leaned on runtime.Get_phys/runtime.CPUHint/runtime.MAXCPUS, intrinsics
// of a forked Go runtime with no standard-library equivalent (see
// DESIGN.md).
package mem

import (
	"fmt"
	"sync"

	"spikeos/limits"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// PTE_P marks a page-table entry as present.
const PTE_P Pa_t = 1 << 0

// PTE_W marks a page-table entry writable.
const PTE_W Pa_t = 1 << 1

// PTE_U marks a page-table entry user-accessible.
const PTE_U Pa_t = 1 << 2

// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

// PTE_PS marks a large (4MB) page-directory entry.
const PTE_PS Pa_t = 1 << 7

// PTE_ADDR extracts the physical frame address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

// Pa_t represents a physical address.
type Pa_t uintptr

// Bytepg_t is a byte-addressed page.
type Bytepg_t [PGSIZE]uint8

// ErrOOM is returned when the frame allocator has no free frames left.
var ErrOOM = fmt.Errorf("out of physical frames")

// Physmem_t is the fixed-size bitmap allocator covering the machine's
// simulated physical memory: limits.Syslimit.FrameBits frames starting
// at physical address 0, sized to cover at least 64MiB.
type Physmem_t struct {
	mu    sync.Mutex
	bits  []uint64 // one bit per frame; set means allocated
	nfree int
	pages [][]byte // backing storage for each frame, lazily allocated
}

var Physmem = newPhysmem(limits.Syslimit.FrameBits)

func newPhysmem(nframes int) *Physmem_t {
	words := (nframes + 63) / 64
	return &Physmem_t{
		bits:  make([]uint64, words),
		nfree: nframes,
		pages: make([][]byte, nframes),
	}
}

// Nframes returns the total number of frames the allocator manages.
func (p *Physmem_t) Nframes() int {
	return len(p.pages)
}

func (p *Physmem_t) frameOf(pa Pa_t) int {
	return int(pa >> PGSHIFT)
}

func (p *Physmem_t) testbit(idx int) bool {
	return p.bits[idx/64]&(1<<uint(idx%64)) != 0
}

func (p *Physmem_t) setbit(idx int) {
	p.bits[idx/64] |= 1 << uint(idx%64)
}

func (p *Physmem_t) clearbit(idx int) {
	p.bits[idx/64] &^= 1 << uint(idx%64)
}

// AllocFrame finds the lowest-numbered free frame, marks it allocated,
// zeroes it, and returns its physical address.
func (p *Physmem_t) AllocFrame() (Pa_t, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < len(p.pages); i++ {
		if !p.testbit(i) {
			p.setbit(i)
			p.nfree--
			p.pages[i] = make([]byte, PGSIZE)
			return Pa_t(i) << PGSHIFT, nil
		}
	}
	return 0, ErrOOM
}

// AllocFramesContiguous allocates n contiguous free frames (a run of
// pages rather than a scatter of individually-chosen ones) and returns
// the physical address of the first.
func (p *Physmem_t) AllocFramesContiguous(n int) (Pa_t, error) {
	if n <= 0 {
		panic("bad contiguous frame count")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	run := 0
	start := -1
	for i := 0; i < len(p.pages); i++ {
		if !p.testbit(i) {
			if run == 0 {
				start = i
			}
			run++
			if run == n {
				for j := start; j < start+n; j++ {
					p.setbit(j)
					p.pages[j] = make([]byte, PGSIZE)
				}
				p.nfree -= n
				return Pa_t(start) << PGSHIFT, nil
			}
		} else {
			run = 0
		}
	}
	return 0, ErrOOM
}

// FreeFrame releases the frame at pa back to the allocator.
func (p *Physmem_t) FreeFrame(pa Pa_t) {
	idx := p.frameOf(pa)
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.pages) {
		panic("free of out-of-range frame")
	}
	if !p.testbit(idx) {
		panic("double free of physical frame")
	}
	p.clearbit(idx)
	p.pages[idx] = nil
	p.nfree++
}

// ReserveRegion marks [pa, pa+n*PGSIZE) allocated without handing the
// frames to a caller; used at boot to reserve the frames backing the
// kernel image before the rest of physical memory is handed out.
func (p *Physmem_t) ReserveRegion(pa Pa_t, n int) {
	start := p.frameOf(pa)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := start; i < start+n; i++ {
		if i < 0 || i >= len(p.pages) {
			panic("reserve of out-of-range frame")
		}
		if !p.testbit(i) {
			p.setbit(i)
			p.nfree--
			p.pages[i] = make([]byte, PGSIZE)
		}
	}
}

// Bytes returns the byte slice backing the frame at pa, for readers and
// writers that treat physical memory as a flat array (page tables, user
// pages, kernel heap pages). Panics if pa's frame is not allocated.
func (p *Physmem_t) Bytes(pa Pa_t) []byte {
	idx := p.frameOf(pa)
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.pages) || p.pages[idx] == nil {
		panic("access to unallocated frame")
	}
	return p.pages[idx]
}

// Nfree reports the number of unallocated frames.
func (p *Physmem_t) Nfree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nfree
}

// Reset frees every frame; used by tests that want a clean allocator
// without constructing a whole new Physmem_t.
func (p *Physmem_t) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.bits {
		p.bits[i] = 0
	}
	for i := range p.pages {
		p.pages[i] = nil
	}
	p.nfree = len(p.pages)
}
