// Command spikeos boots the kernel core: it wires the frame allocator,
// paging, process table, VFS, and syscall dispatcher together, loads a
// SpikeFS image if one is given, spawns an init process out of it, and
// then services the process table with a software-simulated 100 Hz
// tick standing in for the PIT/IRQ0 source real hardware would drive
// (the PIT driver and PIC remap are out of scope; only its tick
// contract is).
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"spikeos/console"
	"spikeos/defs"
	"spikeos/elfload"
	"spikeos/fd"
	"spikeos/proc"
	"spikeos/spikefs"
	"spikeos/syscall"
	"spikeos/trap"
	"spikeos/ustr"
	"spikeos/vfs"
	"spikeos/vm"
)

func main() {
	diskPath := flag.String("disk", "", "path to a SpikeFS disk image to load at boot")
	initPath := flag.String("init", "/init", "path of the user binary to spawn at boot")
	flag.Parse()

	vm.PagingInit()
	proc.Init()
	vfs.Init()
	syscall.Init()
	console.Out = os.Stdout

	if *diskPath != "" {
		disk, err := spikefs.OpenFileDisk(*diskPath)
		if err != nil {
			log.Fatalf("open disk image %q: %v", *diskPath, err)
		}
		if err := spikefs.Load(disk); err != nil {
			log.Fatalf("load SpikeFS image %q: %v", *diskPath, err)
		}
		syscall.RootDisk = disk
	}

	if err := spawnInit(*initPath); err != 0 {
		log.Fatalf("spawn %q: errno %d", *initPath, err)
	}

	runTicks()
}

// spawnInit reads the ELF binary at path out of the VFS and starts it
// as the first user process, the same two steps syscall.sysSpawn takes
// for an already-running caller.
func spawnInit(path string) defs.Err_t {
	cwd := fd.MkRootCwd(nil)
	f, ferr := vfs.Open(cwd, ustr.Ustr(path), defs.O_RDONLY)
	if ferr != 0 {
		return ferr
	}
	defer f.Close()

	var buf growBuf
	if _, rerr := f.Read(&buf); rerr != 0 {
		return rerr
	}
	res, lerr := elfload.Load(buf.buf)
	if lerr != 0 {
		return lerr
	}
	_, cerr := proc.CreateUserProcess(res.Pgdir, res.Entry, res.StackTop, res.Regions)
	return cerr
}

// growBuf accumulates every byte pushed into it via Uiowrite, pulling a
// whole VFS file's contents out through vfs.File_t.Read.
type growBuf struct{ buf []byte }

func (g *growBuf) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, g.buf)
	return n, 0
}
func (g *growBuf) Uiowrite(src []uint8) (int, defs.Err_t) {
	g.buf = append(g.buf, src...)
	return len(src), 0
}
func (g *growBuf) Remain() int  { return 0 }
func (g *growBuf) Totalsz() int { return len(g.buf) }

// runTicks drives proc.Tick at 100 Hz, syncing SpikeFS to RootDisk
// whenever the VFS has mutated since the last pass, matching spec.md's
// shell idle hook.
func runTicks() {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for range tick.C {
		proc.Tick(&trap.TrapFrame{})
		if syscall.RootDisk != nil && vfs.Dirty() {
			if err := spikefs.Sync(syscall.RootDisk); err != nil {
				log.Printf("spikefs sync: %v", err)
			}
		}
	}
}
