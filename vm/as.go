package vm

import (
	"sync"

	"spikeos/bounds"
	"spikeos/defs"
	"spikeos/mem"
	"spikeos/res"
)

// Vmregion_t describes one mapped range of a process's address space:
// permissions applied uniformly to every page in [Start, Start+Len).
// Kept deliberately simpler than an interval-tree region map, since
// this kernel has no demand paging of file data and no COW fork —
// every region here is either anonymous (heap, stack, brk) or already
// frame-backed by the ELF loader at spawn time.
type Vmregion_t struct {
	regions []vmregion
}

type vmregion struct {
	start uintptr
	len   uintptr
	write bool
}

// Add records a new mapped region.
func (vr *Vmregion_t) Add(start, length uintptr, write bool) {
	vr.regions = append(vr.regions, vmregion{start, length, write})
}

// RegionSpec describes a region to register in a freshly built address
// space's Vmregion once that address space exists — elfload builds a
// page directory before any Vm_t wraps it, so it hands back specs for
// the caller that does own a Vm_t (proc.CreateUserProcess) to add.
type RegionSpec struct {
	Start uintptr
	Len   uintptr
	Write bool
}

// Lookup returns the region covering va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (vmregion, bool) {
	for _, r := range vr.regions {
		if va >= r.start && va < r.start+r.len {
			return r, true
		}
	}
	return vmregion{}, false
}

// Remove clips [start, start+length) out of every recorded region,
// splitting a region that only partially overlaps. Used when brk
// shrinks or munmap drops a mapping.
func (vr *Vmregion_t) Remove(start, length uintptr) {
	end := start + length
	out := vr.regions[:0]
	for _, r := range vr.regions {
		rend := r.start + r.len
		if rend <= start || r.start >= end {
			out = append(out, r)
			continue
		}
		if r.start < start {
			out = append(out, vmregion{r.start, start - r.start, r.write})
		}
		if rend > end {
			out = append(out, vmregion{end, rend - end, r.write})
		}
	}
	vr.regions = out
}

// Vm_t is a process's address space: its page directory plus the
// region list describing what ought to be mapped there. The mutex
// plays the role "disabling interrupts around short critical sections"
// plays for single-CPU mutual exclusion, via a Lock_pmap/Unlock_pmap
// pairing and a pgfltaken reentrancy guard.
type Vm_t struct {
	sync.Mutex
	Vmregion Vmregion_t
	Pgdir    mem.Pa_t

	pgfltaken bool
}

// Lock_pmap acquires the address-space lock and marks that page-table
// manipulation is in progress.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address-space lock.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address-space lock is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// NewAddressSpace creates a process address space with a fresh page
// directory cloned from the kernel's.
func NewAddressSpace() (*Vm_t, defs.Err_t) {
	pd, err := PgdirCreate()
	if err != 0 {
		return nil, err
	}
	return &Vm_t{Pgdir: pd}, 0
}

// Destroy frees every frame owned exclusively by this address space.
// The caller must have already switched the running CR3 away from it.
func (as *Vm_t) Destroy() {
	PgdirDestroy(as.Pgdir)
}

// Userdmap8_inner returns a byte slice mapping the user virtual address
// va, faulting it in first if necessary. k2u selects whether the kernel
// intends to write through the returned slice (the copy-in direction).
func (as *Vm_t) Userdmap8_inner(va uintptr, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & uintptr(mem.PGOFFSET)

	// A page already mapped by the page tables is accessible regardless
	// of whether its region was registered — the page tables are the
	// ground truth for "already mapped"; Vmregion only decides whether
	// an *unmapped* address is legitimate to zero-fill on demand.
	pa, ok := virtToPhys(as.Pgdir, va)
	if !ok {
		if _, rok := as.Vmregion.Lookup(va); !rok {
			return nil, -defs.EFAULT
		}
		ecode := mem.PTE_U
		if k2u {
			ecode |= mem.PTE_W
		}
		if err := PageFault(as, va, ecode, true); err != 0 {
			return nil, err
		}
		pa, ok = virtToPhys(as.Pgdir, va)
		if !ok {
			return nil, -defs.EFAULT
		}
	}

	frame := pa &^ mem.PGOFFSET
	b := mem.Physmem.Bytes(frame)
	return b[voff:], 0
}

// Userdmap8r maps a user address for reading.
func (as *Vm_t) Userdmap8r(va uintptr) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.Userdmap8_inner(va, false)
}

// PageFault services a page fault at va in address space as. ring3
// indicates whether the faulting context was user mode. Ring-0 faults
// are not serviceable here and panic with a register dump — callers in
// the trap layer handle that branch via hal.HaltForever and never call
// PageFault for them. This function handles the ring-3
// on-demand-zero-fill case: a region is known (Vmregion) but has no
// frame yet, so one is allocated and mapped.
func PageFault(as *Vm_t, va uintptr, ecode mem.Pa_t, ring3 bool) defs.Err_t {
	r, ok := as.Vmregion.Lookup(va)
	if !ok {
		return -defs.EFAULT
	}
	if ecode&mem.PTE_W != 0 && !r.write {
		return -defs.EFAULT
	}

	cnt := &res.Counter{}
	if !cnt.Add(bounds.B_PAGEFAULT_RETRY) {
		return -defs.ENOHEAP
	}
	pa, err := mem.Physmem.AllocFrame()
	if err != nil {
		return -defs.ENOMEM
	}
	flags := mem.PTE_U
	if r.write {
		flags |= mem.PTE_W
	}
	page := va &^ uintptr(mem.PGOFFSET)
	return PgdirMapUserPage(as.Pgdir, page, pa, flags)
}
