// Package elfload validates an ELF32 ET_EXEC i386 image and maps its
// PT_LOAD segments into a fresh page directory for a spawned process.
package elfload

import (
	"bytes"
	"debug/elf"

	"spikeos/defs"
	"spikeos/mem"
	"spikeos/vm"
)

// Result is a freshly built user address space, ready to be handed to
// proc.CreateUserProcess(Pgdir, Entry, StackTop, Regions).
type Result struct {
	Pgdir    mem.Pa_t
	Entry    uintptr
	StackTop uintptr
	Regions  []vm.RegionSpec
}

// Load validates image as a 32-bit little-endian i386 ET_EXEC binary
// and maps every PT_LOAD segment into a new page directory, then maps
// one user stack page just below the kernel base.
func Load(image []byte) (Result, defs.Err_t) {
	ef, ferr := elf.NewFile(bytes.NewReader(image))
	if ferr != nil {
		return Result{}, -defs.ENOEXEC
	}
	defer ef.Close()

	if verr := validate(&ef.FileHeader); verr != 0 {
		return Result{}, verr
	}
	if len(ef.Progs) == 0 {
		return Result{}, -defs.ENOEXEC
	}

	pd, perr := vm.PgdirCreate()
	if perr != 0 {
		return Result{}, perr
	}

	var regions []vm.RegionSpec
	for _, ph := range ef.Progs {
		if ph.Type != elf.PT_LOAD {
			continue
		}
		rg, err := mapSegment(pd, ph, image)
		if err != 0 {
			vm.PgdirDestroy(pd)
			return Result{}, err
		}
		regions = append(regions, rg)
	}

	stackVA := vm.KernelBase - uintptr(mem.PGSIZE)
	frame, ferr2 := mem.Physmem.AllocFrame()
	if ferr2 != nil {
		vm.PgdirDestroy(pd)
		return Result{}, -defs.ENOMEM
	}
	if merr := vm.PgdirMapUserPage(pd, stackVA, frame, mem.PTE_U|mem.PTE_W); merr != 0 {
		vm.PgdirDestroy(pd)
		return Result{}, merr
	}
	regions = append(regions, vm.RegionSpec{Start: stackVA, Len: uintptr(mem.PGSIZE), Write: true})

	return Result{Pgdir: pd, Entry: uintptr(ef.Entry), StackTop: vm.KernelBase, Regions: regions}, 0
}

// validate rejects anything but a 32-bit little-endian i386 executable.
func validate(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS32 {
		return -defs.ENOEXEC
	}
	if eh.Data != elf.ELFDATA2LSB {
		return -defs.ENOEXEC
	}
	if eh.Type != elf.ET_EXEC {
		return -defs.ENOEXEC
	}
	if eh.Machine != elf.EM_386 {
		return -defs.ENOEXEC
	}
	if uintptr(eh.Entry) >= vm.KernelBase {
		return -defs.ENOEXEC
	}
	return 0
}

// mapSegment covers ph's virtual address range with freshly allocated,
// zeroed frames, copying in the overlapping file bytes page by page (a
// staging buffer standing in for temp_map's physical-page window, since
// mem.Physmem.Bytes already hands back a slice instead of requiring a
// real MMU mapping to reach it).
func mapSegment(pd mem.Pa_t, ph *elf.Prog, image []byte) (vm.RegionSpec, defs.Err_t) {
	if uintptr(ph.Vaddr+ph.Memsz) > vm.KernelBase {
		return vm.RegionSpec{}, -defs.ENOEXEC
	}
	start := uintptr(ph.Vaddr) &^ uintptr(mem.PGSIZE-1)
	end := uintptr(ph.Vaddr+ph.Memsz) + uintptr(mem.PGSIZE-1)
	end &^= uintptr(mem.PGSIZE - 1)

	writable := ph.Flags&elf.PF_W != 0
	flags := mem.PTE_U
	if writable {
		flags |= mem.PTE_W
	}

	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		frame, err := mem.Physmem.AllocFrame()
		if err != nil {
			return vm.RegionSpec{}, -defs.ENOMEM
		}
		staging := mem.Physmem.Bytes(frame)
		for i := range staging {
			staging[i] = 0
		}
		copySegmentPage(staging, va, ph, image)
		if merr := vm.PgdirMapUserPage(pd, va, frame, flags); merr != 0 {
			return vm.RegionSpec{}, merr
		}
	}
	return vm.RegionSpec{Start: start, Len: end - start, Write: writable}, 0
}

// copySegmentPage fills dst (one page's worth of bytes, based at va)
// with whatever part of ph's file-backed range [Vaddr, Vaddr+Filesz)
// overlaps it; bytes beyond Filesz within Memsz stay zero (bss).
func copySegmentPage(dst []byte, va uintptr, ph *elf.Prog, image []byte) {
	pageStart := int64(va)
	pageEnd := pageStart + int64(len(dst))
	fileStart := int64(ph.Vaddr)
	fileEnd := fileStart + int64(ph.Filesz)

	lo := pageStart
	if fileStart > lo {
		lo = fileStart
	}
	hi := pageEnd
	if fileEnd < hi {
		hi = fileEnd
	}
	if lo >= hi {
		return
	}

	srcOff := ph.Off + uint64(lo-fileStart)
	dstOff := lo - pageStart
	n := hi - lo
	copy(dst[dstOff:dstOff+n], image[srcOff:uint64(srcOff)+uint64(n)])
}
