package elfload

import (
	"bytes"
	"encoding/binary"
	"testing"

	"spikeos/defs"
	"spikeos/mem"
	"spikeos/vm"
)

// buildELF32 hand-assembles a minimal valid ELF32 ET_EXEC i386 image
// with a single PT_LOAD segment covering data, since debug/elf offers
// no encoder and the image needs an exact byte layout to exercise
// Load's parsing.
func buildELF32(entry, vaddr uint32, data []byte) []byte {
	const ehsize = 52
	const phsize = 32

	var buf bytes.Buffer
	ident := [16]byte{0x7f, 'E', 'L', 'F', 1 /* ELFCLASS32 */, 1 /* ELFDATA2LSB */, 1}
	buf.Write(ident[:])
	binary.Write(&buf, binary.LittleEndian, uint16(2))  // e_type = ET_EXEC
	binary.Write(&buf, binary.LittleEndian, uint16(3))  // e_machine = EM_386
	binary.Write(&buf, binary.LittleEndian, uint32(1))  // e_version
	binary.Write(&buf, binary.LittleEndian, entry)      // e_entry
	binary.Write(&buf, binary.LittleEndian, uint32(ehsize)) // e_phoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_shoff
	binary.Write(&buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(&buf, binary.LittleEndian, uint16(ehsize)) // e_ehsize
	binary.Write(&buf, binary.LittleEndian, uint16(phsize)) // e_phentsize
	binary.Write(&buf, binary.LittleEndian, uint16(1))  // e_phnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shentsize
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shnum
	binary.Write(&buf, binary.LittleEndian, uint16(0))  // e_shstrndx

	dataOff := uint32(ehsize + phsize)
	binary.Write(&buf, binary.LittleEndian, uint32(1))           // p_type = PT_LOAD
	binary.Write(&buf, binary.LittleEndian, dataOff)             // p_offset
	binary.Write(&buf, binary.LittleEndian, vaddr)                // p_vaddr
	binary.Write(&buf, binary.LittleEndian, vaddr)                // p_paddr
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))    // p_filesz
	binary.Write(&buf, binary.LittleEndian, uint32(len(data)))    // p_memsz
	binary.Write(&buf, binary.LittleEndian, uint32(5))            // p_flags = R|X
	binary.Write(&buf, binary.LittleEndian, uint32(mem.PGSIZE))   // p_align

	buf.Write(data)
	return buf.Bytes()
}

func TestLoadMapsEntryAndSegment(t *testing.T) {
	vm.PagingInitForTest()
	const vaddr = 0x08048000
	payload := []byte{0x90, 0x90, 0xc3} // nop; nop; ret
	image := buildELF32(vaddr, vaddr, payload)

	res, err := Load(image)
	if err != 0 {
		t.Fatalf("Load: %d", err)
	}
	if res.Entry != vaddr {
		t.Fatalf("expected entry %#x, got %#x", vaddr, res.Entry)
	}
	if res.StackTop != vm.KernelBase {
		t.Fatalf("expected stack top at kernel base, got %#x", res.StackTop)
	}

	phys, ok := vm.VirtToPhys(res.Pgdir, vaddr)
	if !ok {
		t.Fatal("expected the PT_LOAD segment's page to be mapped")
	}
	got := mem.Physmem.Bytes(phys)[:len(payload)]
	if !bytes.Equal(got, payload) {
		t.Fatalf("expected mapped page to contain %v, got %v", payload, got)
	}
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	vm.PagingInitForTest()
	image := buildELF32(0x1000, 0x1000, []byte{0})
	image[18] = 0x3e // e_machine low byte -> EM_X86_64, not EM_386

	if _, err := Load(image); err != -defs.ENOEXEC {
		t.Fatalf("expected -ENOEXEC for a non-i386 machine, got %d", err)
	}
}

func TestLoadRejectsEntryAboveKernelBase(t *testing.T) {
	vm.PagingInitForTest()
	bad := uint32(vm.KernelBase)
	image := buildELF32(bad, bad, []byte{0})

	if _, err := Load(image); err != -defs.ENOEXEC {
		t.Fatalf("expected -ENOEXEC for an entry at/above the kernel base, got %d", err)
	}
}
