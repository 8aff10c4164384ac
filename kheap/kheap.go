// Package kheap is the kernel heap: a first-fit free list over a
// virtual range that grows on demand by mapping fresh frames, splitting
// and coalescing blocks as they're allocated and freed. Built around
// mem.Physmem-backed pages and a doubly linked free list. Out-of-memory
// notification is a channel, OomCh, rather than a separate package.
package kheap

import (
	"container/list"
	"sync"
	"unsafe"

	"spikeos/limits"
	"spikeos/mem"
	"spikeos/vm"
)

const align = 16
const headerSize = int(unsafe.Sizeof(blockHeader{}))

type blockHeader struct {
	size int // payload size in bytes, not including the header
	free bool
}

// Oommsg_t is sent on OomCh when a growth attempt hits HeapMax, so a
// daemon can still observe memory pressure without a dedicated
// always-empty package.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

// OomCh is notified when the heap cannot grow to satisfy a request.
var OomCh = make(chan Oommsg_t, 1)

// Heap_t is the kernel heap: a byte arena grown page by page, carved
// into blockHeader-prefixed blocks tracked on a free list.
type Heap_t struct {
	mu sync.Mutex

	base  uintptr // kernel virtual address of the heap's first page
	size  int     // bytes currently mapped
	max   int     // limits.Syslimit.HeapMax
	pages int     // number of frames mapped so far

	arena []byte     // host-simulated view of the heap's bytes
	free  *list.List // free blocks, by arena offset, ascending
}

// free list element: offset into arena of a free block's header
type freeNode struct {
	off int
}

// Kheap is the single kernel heap instance.
var Kheap = New(limits.Syslimit.HeapMax)

// New constructs an empty heap with the given growth ceiling.
func New(max int) *Heap_t {
	return &Heap_t{
		base: vm.KernelBase + uintptr(vm.HeapPDE-vm.KernelBasePDE)<<22,
		max:  max,
		free: list.New(),
	}
}

func roundup16(n int) int {
	if r := n % align; r != 0 {
		n += align - r
	}
	return n
}

// grow maps n more frames onto the end of the heap's virtual range and
// extends (or creates) the trailing free block. Rolls back any frames
// it mapped if a later frame allocation in the same call fails.
func (h *Heap_t) grow(n int) bool {
	if h.size+n*mem.PGSIZE > h.max {
		select {
		case OomCh <- Oommsg_t{Need: n * mem.PGSIZE}:
		default:
		}
		return false
	}
	mapped := make([]mem.Pa_t, 0, n)
	for i := 0; i < n; i++ {
		pa, err := mem.Physmem.AllocFrame()
		if err != nil {
			for _, p := range mapped {
				mem.Physmem.FreeFrame(p)
			}
			return false
		}
		mapped = append(mapped, pa)
	}
	oldsize := h.size
	for _, pa := range mapped {
		va := h.base + uintptr(h.size)
		if rc := vm.MapPage(vm.KernelPD(), va, pa, vm.P_WRITE); rc != 0 {
			for _, p := range mapped {
				mem.Physmem.FreeFrame(p)
			}
			h.size = oldsize
			return false
		}
		h.arena = append(h.arena, mem.Physmem.Bytes(pa)...)
		h.size += mem.PGSIZE
	}
	h.pages += n

	grown := n * mem.PGSIZE
	if back := h.free.Back(); back != nil {
		fn := back.Value.(*freeNode)
		hdr := h.hdrAt(fn.off)
		if fn.off+headerSize+hdr.size == oldsize {
			hdr.size += grown
			h.putHdr(fn.off, hdr)
			return true
		}
	}
	h.addFree(oldsize, grown-headerSize)
	return true
}

func (h *Heap_t) hdrAt(off int) blockHeader {
	return *(*blockHeader)(unsafe.Pointer(&h.arena[off]))
}

func (h *Heap_t) putHdr(off int, hdr blockHeader) {
	*(*blockHeader)(unsafe.Pointer(&h.arena[off])) = hdr
}

func (h *Heap_t) addFree(off, size int) {
	h.putHdr(off, blockHeader{size: size, free: true})
	for e := h.free.Front(); e != nil; e = e.Next() {
		if e.Value.(*freeNode).off > off {
			h.free.InsertBefore(&freeNode{off: off}, e)
			return
		}
	}
	h.free.PushBack(&freeNode{off: off})
}

// Kmalloc allocates size bytes, 16-byte aligned, first-fit over the
// free list; if nothing fits, the heap grows by enough pages to cover
// the request and retries once.
func (h *Heap_t) Kmalloc(size int) (uintptr, bool) {
	if size == 0 {
		return 0, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	size = roundup16(size)

	for attempt := 0; attempt < 2; attempt++ {
		for e := h.free.Front(); e != nil; e = e.Next() {
			fn := e.Value.(*freeNode)
			hdr := h.hdrAt(fn.off)
			if hdr.size < size {
				continue
			}
			h.free.Remove(e)
			if hdr.size >= size+headerSize+align {
				tailOff := fn.off + headerSize + size
				tailSize := hdr.size - size - headerSize
				h.putHdr(fn.off, blockHeader{size: size, free: false})
				h.addFree(tailOff, tailSize)
			} else {
				h.putHdr(fn.off, blockHeader{size: hdr.size, free: false})
			}
			return h.base + uintptr(fn.off+headerSize), true
		}
		if attempt == 0 {
			npages := (size + headerSize + mem.PGSIZE - 1) / mem.PGSIZE
			if npages < 1 {
				npages = 1
			}
			if !h.grow(npages) {
				return 0, false
			}
		}
	}
	return 0, false
}

// predecessorOff walks the arena from its base to find the block
// physically preceding off, since blocks carry no back-pointer. O(n)
// over the heap, same tradeoff the teacher's free-list walk makes.
func (h *Heap_t) predecessorOff(off int) (int, bool) {
	if off == 0 {
		return 0, false
	}
	cur := 0
	for cur < off {
		hdr := h.hdrAt(cur)
		next := cur + headerSize + hdr.size
		if next == off {
			return cur, true
		}
		cur = next
	}
	return 0, false
}

func (h *Heap_t) removeFree(off int) {
	for e := h.free.Front(); e != nil; e = e.Next() {
		if e.Value.(*freeNode).off == off {
			h.free.Remove(e)
			return
		}
	}
}

// Kfree returns a previously allocated block to the free list,
// coalescing with both the following and the preceding physical block
// when either is free, so no two adjacent free blocks ever survive a
// call. Panics on a pointer outside the heap or a double free's
// consistency error kind.
func (h *Heap_t) Kfree(ptr uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ptr < h.base+uintptr(headerSize) || ptr >= h.base+uintptr(h.size) {
		panic("kfree: pointer outside heap")
	}
	off := int(ptr-h.base) - headerSize
	hdr := h.hdrAt(off)
	if hdr.free {
		panic("kfree: double free")
	}
	size := hdr.size

	nextOff := off + headerSize + size
	if nextOff < h.size {
		next := h.hdrAt(nextOff)
		if next.free {
			h.removeFree(nextOff)
			size += headerSize + next.size
		}
	}

	if predOff, ok := h.predecessorOff(off); ok {
		pred := h.hdrAt(predOff)
		if pred.free {
			h.removeFree(predOff)
			size += headerSize + pred.size
			off = predOff
		}
	}

	h.addFree(off, size)
}

// Krealloc resizes the allocation at ptr to n bytes, preserving its
// existing content up to min(old size, n). A null ptr behaves like
// Kmalloc; n==0 frees ptr and returns null. Tries to absorb the
// following free block in place before falling back to
// allocate+copy+free.
func (h *Heap_t) Krealloc(ptr uintptr, n int) (uintptr, bool) {
	if ptr == 0 {
		return h.Kmalloc(n)
	}
	if n == 0 {
		h.Kfree(ptr)
		return 0, true
	}

	h.mu.Lock()
	n = roundup16(n)
	off := int(ptr-h.base) - headerSize
	hdr := h.hdrAt(off)
	oldsize := hdr.size
	if n <= oldsize {
		h.mu.Unlock()
		return ptr, true
	}

	nextOff := off + headerSize + oldsize
	if nextOff < h.size {
		next := h.hdrAt(nextOff)
		if next.free && oldsize+headerSize+next.size >= n {
			h.removeFree(nextOff)
			total := oldsize + headerSize + next.size
			if total >= n+headerSize+align {
				tailOff := off + headerSize + n
				tailSize := total - n - headerSize
				h.putHdr(off, blockHeader{size: n, free: false})
				h.addFree(tailOff, tailSize)
			} else {
				h.putHdr(off, blockHeader{size: total, free: false})
			}
			h.mu.Unlock()
			return ptr, true
		}
	}
	h.mu.Unlock()

	np, ok := h.Kmalloc(n)
	if !ok {
		return 0, false
	}
	copy(h.Bytes(np, oldsize), h.Bytes(ptr, oldsize))
	h.Kfree(ptr)
	return np, true
}

// Kcalloc allocates n*sz bytes zeroed.
func (h *Heap_t) Kcalloc(n, sz int) (uintptr, bool) {
	total := n * sz
	p, ok := h.Kmalloc(total)
	if !ok {
		return 0, false
	}
	off := int(p - h.base)
	for i := 0; i < total; i++ {
		h.arena[off+i] = 0
	}
	return p, true
}

// Bytes returns a byte slice view over n bytes starting at ptr, for
// callers that want direct access to an allocation's payload.
func (h *Heap_t) Bytes(ptr uintptr, n int) []byte {
	off := int(ptr - h.base)
	return h.arena[off : off+n]
}

// Used reports how many payload bytes are currently allocated.
func (h *Heap_t) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	free := 0
	for e := h.free.Front(); e != nil; e = e.Next() {
		free += headerSize + h.hdrAt(e.Value.(*freeNode).off).size
	}
	return h.size - free
}
