// Package vm implements two-level x86 paging: kernel/user address
// spaces, the temporary-mapping window, the MMIO region allocator, and
// the page-fault handler. Uses the Vm_t/Lock_pmap/Unlock_pmap naming
// and Userdmap8_inner's lock-then-walk structure from vm/as.go and the
// Userbuf_t/Fakeubuf_t pairing from vm/userbuf.go, generalized from a
// native 4-level amd64 table layout down to a 2-level, 32-bit,
// higher-half-at-0xC0000000 layout. Page tables live in mem.Physmem
// frames and are read/written via encoding/binary rather than direct
// pointer-cast (*Pmap_t)(unsafe.Pointer(...)) tricks, since there is no
// real MMU backing this process's address space to cast into.
package vm

import (
	"encoding/binary"
	"sync"

	"spikeos/defs"
	"spikeos/mem"
)

const (
	// KernelBase is the virtual address where the higher-half kernel
	// mapping begins; PDE[KernelBasePDE] anchors it.
	KernelBase     uintptr = 0xC0000000
	KernelBasePDE  int     = int(KernelBase >> 22)
	HeapPDE        int     = KernelBasePDE + 1
	FramebufferPDE int     = KernelBasePDE + 2
	MMIOBasePDE    int     = KernelBasePDE + 3

	// UserHeapBase is the virtual address a fresh user process's brk
	// segment starts at. UserMmapBase is where the anonymous-mapping
	// bump allocator starts handing out addresses; kept well clear of
	// the heap so a growing brk and a growing mmap region never collide
	// in this simplified, non-reclaiming layout.
	UserHeapBase uintptr = 0x40000000
	UserMmapBase uintptr = 0x50000000

	pdeCount = 1024
	pteCount = 1024
	pdeSize  = 4
	pteSize  = 4
)

// PTE/PDE flag bits, shared with package mem's PTE_* constants.
const (
	P_PRESENT = mem.PTE_P
	P_WRITE   = mem.PTE_W
	P_USER    = mem.PTE_U
	P_PCD     = mem.PTE_PCD
)

var pagingMu sync.Mutex

// kernelPD is the page directory shared (cloned-by-reference) into
// every process's address space; kernelPTs holds the physical frame of
// each of the three statically allocated kernel page tables (code,
// heap, framebuffer). All three are allocated once at boot so the boot
// path never needs to allocate frames to map itself.
var kernelPD mem.Pa_t
var kernelPTs [3]mem.Pa_t // indices: code, heap, framebuffer

// tempMapBusy enforces that only one temporary mapping may be live at
// a time.
var tempMapBusy bool

func readEntry(framePA mem.Pa_t, idx int) mem.Pa_t {
	b := mem.Physmem.Bytes(framePA)
	return mem.Pa_t(binary.LittleEndian.Uint32(b[idx*4:]))
}

func writeEntry(framePA mem.Pa_t, idx int, v mem.Pa_t) {
	b := mem.Physmem.Bytes(framePA)
	binary.LittleEndian.PutUint32(b[idx*4:], uint32(v))
}

func pdeIndex(va uintptr) int { return int(va>>22) & (pdeCount - 1) }
func pteIndex(va uintptr) int { return int(va>>12) & (pteCount - 1) }

// PagingInitForTest resets paging state and reinitializes it; callers in
// other packages' tests use this instead of re-deriving PagingInit's
// side effects after mem.Physmem.Reset().
func PagingInitForTest() {
	pagingMu.Lock()
	kernelPD = 0
	kernelPTs = [3]mem.Pa_t{}
	mmioNextPDE = MMIOBasePDE
	pagingMu.Unlock()
	PagingInit()
}

// PagingInit maps the first 4MiB of physical memory at the higher-half
// base, and installs the heap and framebuffer PDEs so they are always
// present. Low virtual addresses are left unmapped.
func PagingInit() {
	pagingMu.Lock()
	defer pagingMu.Unlock()

	pd, err := mem.Physmem.AllocFrame()
	if err != nil {
		panic("oom during paging_init")
	}
	kernelPD = pd

	codePT, err := mem.Physmem.AllocFrame()
	if err != nil {
		panic("oom during paging_init")
	}
	for i := 0; i < pteCount; i++ {
		pa := mem.Pa_t(i) << mem.PGSHIFT
		writeEntry(codePT, i, pa|P_PRESENT|P_WRITE)
	}
	kernelPTs[0] = codePT
	writeEntry(kernelPD, KernelBasePDE, codePT|P_PRESENT|P_WRITE)

	heapPT, err := mem.Physmem.AllocFrame()
	if err != nil {
		panic("oom during paging_init")
	}
	kernelPTs[1] = heapPT
	writeEntry(kernelPD, HeapPDE, heapPT|P_PRESENT|P_WRITE)

	fbPT, err := mem.Physmem.AllocFrame()
	if err != nil {
		panic("oom during paging_init")
	}
	kernelPTs[2] = fbPT
	writeEntry(kernelPD, FramebufferPDE, fbPT|P_PRESENT|P_WRITE)
}

// KernelPD returns the shared kernel page directory's physical address.
func KernelPD() mem.Pa_t { return kernelPD }

func isSharedKernelPT(pt mem.Pa_t) bool {
	for _, p := range kernelPTs {
		if p == pt {
			return true
		}
	}
	return false
}

// VirtToPhys walks pd for va and returns the mapped physical address.
// Returns ok=false on any missing entry; a debug path never used on a
// hot path.
func VirtToPhys(pd mem.Pa_t, va uintptr) (mem.Pa_t, bool) {
	pagingMu.Lock()
	defer pagingMu.Unlock()
	return virtToPhys(pd, va)
}

func virtToPhys(pd mem.Pa_t, va uintptr) (mem.Pa_t, bool) {
	pde := readEntry(pd, pdeIndex(va))
	if pde&P_PRESENT == 0 {
		return 0, false
	}
	pt := pde & mem.PTE_ADDR
	pte := readEntry(pt, pteIndex(va))
	if pte&P_PRESENT == 0 {
		return 0, false
	}
	return (pte & mem.PTE_ADDR) | mem.Pa_t(va)&mem.PGOFFSET, true
}

// MapPage ensures the PDE covering va is present (allocating a new PT
// frame if needed) and writes the PTE for va to point at phys with the
// given flags. Returns ENOMEM if a frame allocation fails.
func MapPage(pd mem.Pa_t, va uintptr, phys mem.Pa_t, flags mem.Pa_t) defs.Err_t {
	pagingMu.Lock()
	defer pagingMu.Unlock()
	return mapPage(pd, va, phys, flags)
}

func mapPage(pd mem.Pa_t, va uintptr, phys mem.Pa_t, flags mem.Pa_t) defs.Err_t {
	pdi := pdeIndex(va)
	pde := readEntry(pd, pdi)
	var pt mem.Pa_t
	if pde&P_PRESENT == 0 {
		newpt, err := mem.Physmem.AllocFrame()
		if err != nil {
			return -defs.ENOMEM
		}
		pt = newpt
		writeEntry(pd, pdi, pt|P_PRESENT|P_WRITE|P_USER)
	} else {
		pt = pde & mem.PTE_ADDR
	}
	writeEntry(pt, pteIndex(va), (phys&mem.PTE_ADDR)|flags|P_PRESENT)
	return 0
}

// UnmapPage clears the PTE for va, if present.
func UnmapPage(pd mem.Pa_t, va uintptr) {
	pagingMu.Lock()
	defer pagingMu.Unlock()
	pde := readEntry(pd, pdeIndex(va))
	if pde&P_PRESENT == 0 {
		return
	}
	pt := pde & mem.PTE_ADDR
	writeEntry(pt, pteIndex(va), 0)
}

// TempMap grants access to phys's bytes through the kernel's single
// temporary-mapping slot. The caller must call the returned unmap
// function before any other code path may TempMap again; nesting
// (calling TempMap again before the prior unmap) panics.
func TempMap(phys mem.Pa_t) (data []byte, unmap func()) {
	pagingMu.Lock()
	if tempMapBusy {
		pagingMu.Unlock()
		panic("temp_map: already mapped")
	}
	tempMapBusy = true
	pagingMu.Unlock()

	b := mem.Physmem.Bytes(phys)
	return b, func() {
		pagingMu.Lock()
		tempMapBusy = false
		pagingMu.Unlock()
	}
}

var mmioNextPDE = MMIOBasePDE

// MapMmioRegion reserves the next free kernel PDE starting at
// MMIOBasePDE, maps enough pages to cover size bytes starting at
// physBase with caching disabled, and returns the resulting kernel
// virtual address (preserving physBase's sub-page offset).
func MapMmioRegion(physBase mem.Pa_t, size int) (uintptr, defs.Err_t) {
	pagingMu.Lock()
	pdi := mmioNextPDE
	mmioNextPDE++
	pagingMu.Unlock()

	if pdi >= pdeCount {
		return 0, -defs.ENOMEM
	}

	pt, err := mem.Physmem.AllocFrame()
	if err != nil {
		return 0, -defs.ENOMEM
	}
	pagingMu.Lock()
	writeEntry(kernelPD, pdi, pt|P_PRESENT|P_WRITE)
	pagingMu.Unlock()

	base := physBase & mem.PGMASK
	off := physBase - base
	npages := (int(off) + size + mem.PGSIZE - 1) / mem.PGSIZE
	va := uintptr(pdi)<<22 + uintptr(off)
	for i := 0; i < npages; i++ {
		pa := base + mem.Pa_t(i)<<mem.PGSHIFT
		if rc := MapPage(kernelPD, uintptr(pdi)<<22+uintptr(i)<<mem.PGSHIFT, pa, P_WRITE|P_PCD); rc != 0 {
			return 0, rc
		}
	}
	return va, 0
}

// PgdirCreate allocates a fresh page directory that shares the kernel's
// PDEs (code/heap/framebuffer are not cloned, only referenced) and has
// empty user slots.
func PgdirCreate() (mem.Pa_t, defs.Err_t) {
	pd, err := mem.Physmem.AllocFrame()
	if err != nil {
		return 0, -defs.ENOMEM
	}
	pagingMu.Lock()
	defer pagingMu.Unlock()
	for i := 0; i < pdeCount; i++ {
		writeEntry(pd, i, readEntry(kernelPD, i))
	}
	return pd, 0
}

// PgdirMapUserPage installs phys at va in pd with the given flags. If
// the PDE covering va currently points at a shared kernel PT (compared
// by physical address, not by the USER flag bit), the PT is cloned
// first so writes through this process's mapping cannot leak into
// another process or the kernel.
func PgdirMapUserPage(pd mem.Pa_t, va uintptr, phys mem.Pa_t, flags mem.Pa_t) defs.Err_t {
	pagingMu.Lock()
	pdi := pdeIndex(va)
	pde := readEntry(pd, pdi)
	if pde&P_PRESENT != 0 {
		curPT := pde & mem.PTE_ADDR
		if isSharedKernelPT(curPT) {
			clone, err := mem.Physmem.AllocFrame()
			if err != nil {
				pagingMu.Unlock()
				return -defs.ENOMEM
			}
			copy(mem.Physmem.Bytes(clone), mem.Physmem.Bytes(curPT))
			writeEntry(pd, pdi, clone|P_PRESENT|P_WRITE|P_USER)
		}
	}
	pagingMu.Unlock()
	return mapPageLocking(pd, va, phys, flags)
}

func mapPageLocking(pd mem.Pa_t, va uintptr, phys mem.Pa_t, flags mem.Pa_t) defs.Err_t {
	pagingMu.Lock()
	defer pagingMu.Unlock()
	return mapPage(pd, va, phys, flags)
}

// PgdirDestroy frees every user PT and mapped frame owned exclusively by
// pd, then the PD frame itself. PDEs that still point at a shared
// kernel PT are left untouched. The caller must have already switched
// CR3 away from pd.
func PgdirDestroy(pd mem.Pa_t) {
	pagingMu.Lock()
	defer pagingMu.Unlock()
	for i := 0; i < pdeCount; i++ {
		pde := readEntry(pd, i)
		if pde&P_PRESENT == 0 {
			continue
		}
		pt := pde & mem.PTE_ADDR
		if isSharedKernelPT(pt) {
			continue
		}
		for j := 0; j < pteCount; j++ {
			pte := readEntry(pt, j)
			if pte&P_PRESENT != 0 {
				mem.Physmem.FreeFrame(pte & mem.PTE_ADDR)
			}
		}
		mem.Physmem.FreeFrame(pt)
	}
	mem.Physmem.FreeFrame(pd)
}
