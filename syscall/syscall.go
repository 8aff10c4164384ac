// Package syscall is the syscall gate dispatcher: it reads the syscall
// number out of tf.Eax, the first three arguments out of tf.Ebx/Ecx/
// Edx, and fans out to the FD table, VFS, and process/wait-queue
// primitives. Errors come back as a negative defs.Err_t written into
// tf.Eax; success is zero or a non-negative result, matching the
// trap-frame return-value convention the rest of the kernel core uses.
package syscall

import (
	"encoding/binary"
	"time"

	"spikeos/defs"
	"spikeos/elfload"
	"spikeos/fd"
	"spikeos/gpustub"
	"spikeos/limits"
	"spikeos/mem"
	"spikeos/netstub"
	"spikeos/pipe"
	"spikeos/proc"
	"spikeos/spikefs"
	"spikeos/stat"
	"spikeos/trap"
	"spikeos/ustr"
	"spikeos/vfs"
	"spikeos/vm"
)

// RootDisk is the ATA block device backing SpikeFS sync. Nil until the
// boot path (or a test) installs one; SYS_SYNC is then a no-op,
// matching a system booted with no image attached.
var RootDisk spikefs.Disk_i

// Init registers Dispatch as the vector-0x80 handler.
func Init() {
	trap.RegisterSyscallHandler(Dispatch)
}

// Dispatch services one syscall trap for the currently running
// process. Unknown syscall numbers return -ENOSYS. After the call
// completes, the well-known "return from syscall" safe point checks
// for a newly pending signal and may terminate the process.
func Dispatch(tf *trap.TrapFrame) {
	p := proc.Current()
	if p == nil || p == proc.Idle {
		enosys := -defs.ENOSYS
		tf.Eax = uint32(int32(enosys))
		return
	}

	var ret defs.Err_t
	switch tf.Eax {
	case defs.SYS_EXIT:
		ret = sysExit(p, tf)
	case defs.SYS_GETPID:
		ret = defs.Err_t(p.Pid)
	case defs.SYS_WRITE:
		ret = sysWrite(p, tf)
	case defs.SYS_READ:
		ret = sysRead(p, tf)
	case defs.SYS_CLOSE:
		ret = p.Fdtable.Close_fd(int(tf.Ebx))
	case defs.SYS_DUP:
		ret = sysDup(p, tf)
	case defs.SYS_KILL:
		ret = proc.Signal(defs.Pid_t(int32(tf.Ebx)), int(tf.Ecx))
	case defs.SYS_WAITPID:
		ret = sysWaitpid(p, tf)
	case defs.SYS_GETRUSAGE:
		ret = sysGetrusage(p, tf)
	case defs.SYS_PIPE2:
		ret = sysPipe2(p, tf)
	case defs.SYS_SLEEP:
		ret = sysSleep(p, tf)
	case defs.SYS_OPENAT:
		ret = sysOpenat(p, tf)
	case defs.SYS_LSEEK:
		ret = sysLseek(p, tf)
	case defs.SYS_STAT:
		ret = sysStat(p, tf)
	case defs.SYS_GETCWD:
		ret = sysGetcwd(p, tf)
	case defs.SYS_CHDIR:
		ret = sysChdir(p, tf)
	case defs.SYS_MKDIRAT:
		ret = sysMkdirat(p, tf)
	case defs.SYS_UNLINKAT:
		ret = sysUnlinkat(p, tf)
	case defs.SYS_SYNC:
		ret = sysSync()
	case defs.SYS_SPAWN:
		ret = sysSpawn(p, tf)
	case defs.SYS_BRK:
		ret = sysBrk(p, tf)
	case defs.SYS_MMAP:
		ret = sysMmap(p, tf)
	case defs.SYS_MUNMAP:
		ret = sysMunmap(p, tf)
	case defs.SYS_SOCKET:
		ret = sysSocket(p, tf)
	case defs.SYS_BIND:
		ret = sysBind(p, tf)
	case defs.SYS_SENDTO:
		ret = sysSendto(p, tf)
	case defs.SYS_RECVFROM:
		ret = sysRecvfrom(p, tf)
	case defs.SYS_CLOSESOCK:
		ret = p.Fdtable.Close_fd(int(tf.Ebx))
	case defs.SYS_GPU_INIT:
		ret = gpustub.Init()
	case defs.SYS_GPU_FLIP:
		ret = gpustub.Flip()
	case defs.SYS_MOUNT, defs.SYS_UMOUNT2, defs.SYS_PIVOT_ROOT, defs.SYS_CHROOT, defs.SYS_REBOOT:
		ret = -defs.ENOSYS
	default:
		ret = -defs.ENOSYS
	}
	tf.Eax = uint32(int32(ret))

	proc.CheckPendingSignals(p)
}

func sysExit(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	status := int(int32(tf.Ebx))
	proc.Kill(p.Pid, status)
	return 0
}

func sysWrite(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	f := p.Fdtable.Get(int(tf.Ebx))
	if f == nil {
		return -defs.EBADF
	}
	ub := userBufFor(p, uintptr(tf.Ecx), int(tf.Edx))
	n, err := f.Fops.Write(ub)
	if err != 0 {
		return err
	}
	return defs.Err_t(n)
}

func sysRead(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	f := p.Fdtable.Get(int(tf.Ebx))
	if f == nil {
		return -defs.EBADF
	}
	ub := userBufFor(p, uintptr(tf.Ecx), int(tf.Edx))
	n, err := f.Fops.Read(ub)
	if err != 0 {
		return err
	}
	return defs.Err_t(n)
}

func userBufFor(p *proc.Process, uva uintptr, length int) *vm.Userbuf_t {
	ub := vm.Ubpool.Get().(*vm.Userbuf_t)
	ub.Ub_init(p.As, uva, length)
	return ub
}

func sysDup(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	return p.Fdtable.Dup(int(tf.Ebx), int(tf.Ecx))
}

func sysWaitpid(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	pid, status, err := proc.Waitpid(p, defs.Pid_t(int32(tf.Ebx)))
	if err != 0 {
		return err
	}
	tf.Ecx = uint32(status)
	return defs.Err_t(pid)
}

func sysGetrusage(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	ru := p.Acct.Fetch()
	ub := userBufFor(p, uintptr(tf.Ecx), len(ru))
	_, err := ub.Uiowrite(ru)
	return err
}

// sysPipe2 allocates a pipe pair and installs it as two new fds,
// writing their numbers into the caller's int[2] buffer at tf.Ebx.
func sysPipe2(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	r, w, err := pipe.Mk()
	if err != 0 {
		return err
	}
	rfd, ferr := p.Fdtable.Alloc_fd(0, &fd.Fd_t{Fops: r, Perms: fd.FD_READ})
	if ferr != 0 {
		return ferr
	}
	wfd, ferr := p.Fdtable.Alloc_fd(0, &fd.Fd_t{Fops: w, Perms: fd.FD_WRITE})
	if ferr != 0 {
		p.Fdtable.Close_fd(rfd)
		return ferr
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out[0:4], uint32(rfd))
	binary.LittleEndian.PutUint32(out[4:8], uint32(wfd))
	ub := userBufFor(p, uintptr(tf.Ebx), len(out))
	_, werr := ub.Uiowrite(out)
	return werr
}

// sysSleep blocks the calling goroutine for the requested number of
// milliseconds. A real tick-target time wheel needs a running timer
// IRQ loop this hosted harness has no equivalent of, so wall-clock
// sleep stands in for it.
func sysSleep(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	time.Sleep(time.Duration(tf.Ebx) * time.Millisecond)
	return 0
}

// readPathFromUser reads a NUL-terminated path out of the caller's
// address space at uva, up to limits.Syslimit.PathMax bytes.
func readPathFromUser(p *proc.Process, uva uintptr) (ustr.Ustr, defs.Err_t) {
	max := limits.Syslimit.PathMax
	ub := userBufFor(p, uva, max)
	raw := make([]uint8, max)
	n, err := ub.Uioread(raw)
	if err != 0 {
		return nil, err
	}
	return ustr.MkUstrSlice(raw[:n]), 0
}

// sysOpenat opens (optionally creating) the path at tf.Ebx with flags
// tf.Ecx, installing the result as a new fd.
func sysOpenat(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path, err := readPathFromUser(p, uintptr(tf.Ebx))
	if err != 0 {
		return err
	}
	f, ferr := vfs.Open(p.Cwd, path, int(tf.Ecx))
	if ferr != 0 {
		return ferr
	}
	perms := fd.FD_READ | fd.FD_WRITE
	fdn, aerr := p.Fdtable.Alloc_fd(0, &fd.Fd_t{Fops: f, Perms: perms})
	if aerr != 0 {
		f.Close()
		return aerr
	}
	return defs.Err_t(fdn)
}

func sysLseek(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	f := p.Fdtable.Get(int(tf.Ebx))
	if f == nil {
		return -defs.EBADF
	}
	off, err := f.Fops.Lseek(int(int32(tf.Ecx)), int(tf.Edx))
	if err != 0 {
		return err
	}
	return defs.Err_t(off)
}

// sysStat resolves the path at tf.Ebx and writes its stat record into
// the user buffer at tf.Ecx.
func sysStat(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path, err := readPathFromUser(p, uintptr(tf.Ebx))
	if err != 0 {
		return err
	}
	ino, rerr := vfs.Resolve(p.Cwd, path)
	if rerr != 0 {
		return rerr
	}
	var st stat.Stat_t
	if serr := vfs.Stat(ino, &st); serr != 0 {
		return serr
	}
	ub := userBufFor(p, uintptr(tf.Ecx), len(st.Bytes()))
	_, werr := ub.Uiowrite(st.Bytes())
	return werr
}

// sysGetcwd writes the caller's current directory path into the user
// buffer at tf.Ebx, up to tf.Ecx bytes.
func sysGetcwd(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path := []byte(p.Cwd.Path.String())
	if len(path) > int(tf.Ecx) {
		return -defs.EINVAL
	}
	ub := userBufFor(p, uintptr(tf.Ebx), len(path))
	_, err := ub.Uiowrite(path)
	if err != 0 {
		return err
	}
	return defs.Err_t(len(path))
}

func sysChdir(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path, err := readPathFromUser(p, uintptr(tf.Ebx))
	if err != 0 {
		return err
	}
	ino, rerr := vfs.Resolve(p.Cwd, path)
	if rerr != 0 {
		return rerr
	}
	if _, derr := vfs.ReadDir(ino); derr != 0 {
		return -defs.ENOTDIR
	}
	p.Cwd.Lock()
	p.Cwd.Path = p.Cwd.Canonicalpath(path)
	p.Cwd.Unlock()
	return 0
}

func sysMkdirat(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path, err := readPathFromUser(p, uintptr(tf.Ebx))
	if err != 0 {
		return err
	}
	return vfs.Mkdir(p.Cwd, path)
}

// sysUnlinkat removes the path at tf.Ebx; tf.Ecx nonzero means remove
// a directory (rmdir semantics) rather than a file.
func sysUnlinkat(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path, err := readPathFromUser(p, uintptr(tf.Ebx))
	if err != 0 {
		return err
	}
	return vfs.Remove(p.Cwd, path, tf.Ecx != 0)
}

// growBuf is a Userio_i sink that accumulates every byte pushed into it
// via Uiowrite, used to pull a whole VFS file's contents out through
// vfs.File_t.Read before handing it to elfload.Load.
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

// sysSpawn ELF-loads the file at tf.Ebx and enqueues it as a new user
// process, returning its pid.
func sysSpawn(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	path, err := readPathFromUser(p, uintptr(tf.Ebx))
	if err != 0 {
		return err
	}
	f, ferr := vfs.Open(p.Cwd, path, defs.O_RDONLY)
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
	pid, cerr := proc.CreateUserProcess(res.Pgdir, res.Entry, res.StackTop, res.Regions)
	if cerr != 0 {
		return cerr
	}
	return defs.Err_t(pid)
}

// sysSocket allocates a loopback socket and installs it as a new fd.
func sysSocket(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	s, err := netstub.Socket()
	if err != 0 {
		return err
	}
	fdn, aerr := p.Fdtable.Alloc_fd(0, &fd.Fd_t{Fops: s, Perms: fd.FD_READ | fd.FD_WRITE})
	if aerr != 0 {
		s.Close()
		return aerr
	}
	return defs.Err_t(fdn)
}

// sockFor looks up the netstub socket installed at fd tf.Ebx.
func sockFor(p *proc.Process, fdn int) (*netstub.Sock_t, defs.Err_t) {
	f := p.Fdtable.Get(fdn)
	if f == nil {
		return nil, -defs.EBADF
	}
	s, ok := f.Fops.(*netstub.Sock_t)
	if !ok {
		return nil, -defs.ENOTSOCK
	}
	return s, 0
}

// sysBind binds the socket at fd tf.Ebx to port tf.Ecx.
func sysBind(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	s, err := sockFor(p, int(tf.Ebx))
	if err != 0 {
		return err
	}
	return netstub.Bind(s, int(tf.Ecx))
}

// sysSendto sends the tf.Edx bytes at tf.Ecx from the socket at fd
// tf.Ebx to port tf.Esi.
func sysSendto(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	s, err := sockFor(p, int(tf.Ebx))
	if err != 0 {
		return err
	}
	buf := make([]byte, int(tf.Edx))
	ub := userBufFor(p, uintptr(tf.Ecx), len(buf))
	n, rerr := ub.Uioread(buf)
	if rerr != 0 {
		return rerr
	}
	sent, serr := netstub.Sendto(s, buf[:n], int(tf.Esi))
	if serr != 0 {
		return serr
	}
	return defs.Err_t(sent)
}

// sysRecvfrom reads one pending datagram for the socket at fd tf.Ebx
// into the tf.Edx-byte buffer at tf.Ecx. The sender's port is written
// to the word at tf.Esi unless that pointer is zero.
func sysRecvfrom(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	s, err := sockFor(p, int(tf.Ebx))
	if err != 0 {
		return err
	}
	ub := userBufFor(p, uintptr(tf.Ecx), int(tf.Edx))
	n, src, rerr := netstub.Recvfrom(s, ub)
	if rerr != 0 {
		return rerr
	}
	if tf.Esi != 0 {
		out := make([]byte, 4)
		binary.LittleEndian.PutUint32(out, uint32(src))
		sub := userBufFor(p, uintptr(tf.Esi), len(out))
		if _, werr := sub.Uiowrite(out); werr != 0 {
			return werr
		}
	}
	return defs.Err_t(n)
}

func pageRoundUp(va uintptr) uintptr {
	sz := uintptr(mem.PGSIZE)
	return (va + sz - 1) &^ (sz - 1)
}

func pageRoundDown(va uintptr) uintptr {
	sz := uintptr(mem.PGSIZE)
	return va &^ (sz - 1)
}

// sysBrk sets the current user process's data-segment break to tf.Ebx,
// zeroing newly mapped pages on growth and unmapping (and freeing) any
// pages the break retreats past. tf.Ebx == 0 queries the current break
// without changing it. Returns the resulting break address.
func sysBrk(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	want := uintptr(tf.Ebx)
	if want == 0 {
		return defs.Err_t(p.Brk)
	}
	cur := p.Brk
	if want == cur {
		return defs.Err_t(want)
	}
	pd := p.As.Pgdir
	if want < cur {
		for va := pageRoundUp(want); va < pageRoundUp(cur); va += uintptr(mem.PGSIZE) {
			if pa, ok := vm.VirtToPhys(pd, va); ok {
				vm.UnmapPage(pd, va)
				mem.Physmem.FreeFrame(pa)
			}
		}
		p.As.Vmregion.Remove(vm.UserHeapBase, cur-vm.UserHeapBase)
		if want > vm.UserHeapBase {
			p.As.Vmregion.Add(vm.UserHeapBase, want-vm.UserHeapBase, true)
		}
		p.Brk = want
		return defs.Err_t(want)
	}
	start := pageRoundUp(cur)
	end := pageRoundUp(want)
	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		frame, merr := mem.Physmem.AllocFrame()
		if merr != nil {
			return -defs.ENOMEM
		}
		buf := mem.Physmem.Bytes(frame)
		for i := range buf {
			buf[i] = 0
		}
		if perr := vm.PgdirMapUserPage(pd, va, frame, mem.PTE_P|mem.PTE_W|mem.PTE_U); perr != 0 {
			mem.Physmem.FreeFrame(frame)
			return perr
		}
	}
	p.As.Vmregion.Remove(vm.UserHeapBase, cur-vm.UserHeapBase)
	p.As.Vmregion.Add(vm.UserHeapBase, want-vm.UserHeapBase, true)
	p.Brk = want
	return defs.Err_t(want)
}

// sysMmap installs an anonymous mapping of tf.Ecx bytes, writable iff
// tf.Edx's low bit is set, at the next free address in the process's
// mmap region (tf.Ebx, an address hint, is accepted but not honored —
// this bump allocator never reuses or repositions). Returns the
// mapping's base address.
func sysMmap(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	length := int(tf.Ecx)
	writable := tf.Edx&0x1 != 0
	pd := p.As.Pgdir
	base := p.MmapNext
	end := pageRoundUp(base + uintptr(length))
	flags := mem.Pa_t(mem.PTE_P | mem.PTE_U)
	if writable {
		flags |= mem.PTE_W
	}
	for va := base; va < end; va += uintptr(mem.PGSIZE) {
		frame, merr := mem.Physmem.AllocFrame()
		if merr != nil {
			return -defs.ENOMEM
		}
		buf := mem.Physmem.Bytes(frame)
		for i := range buf {
			buf[i] = 0
		}
		if perr := vm.PgdirMapUserPage(pd, va, frame, flags); perr != 0 {
			mem.Physmem.FreeFrame(frame)
			return perr
		}
	}
	p.MmapNext = end
	p.As.Vmregion.Add(base, end-base, writable)
	return defs.Err_t(base)
}

// sysMunmap unmaps the tf.Ecx bytes starting at tf.Ebx, freeing each
// backing frame. Addresses outside any live mapping are silently
// skipped, matching munmap(2)'s tolerance of unmapped holes in range.
func sysMunmap(p *proc.Process, tf *trap.TrapFrame) defs.Err_t {
	pd := p.As.Pgdir
	start := pageRoundDown(uintptr(tf.Ebx))
	end := pageRoundUp(uintptr(tf.Ebx) + uintptr(tf.Ecx))
	for va := start; va < end; va += uintptr(mem.PGSIZE) {
		if pa, ok := vm.VirtToPhys(pd, va); ok {
			vm.UnmapPage(pd, va)
			mem.Physmem.FreeFrame(pa)
		}
	}
	p.As.Vmregion.Remove(start, end-start)
	return 0
}

// sysSync flushes the VFS to RootDisk if dirty. A shell idle hook also
// calls spikefs.Sync directly on the same schedule; this syscall just
// lets a process force it.
func sysSync() defs.Err_t {
	if RootDisk == nil {
		return 0
	}
	if err := spikefs.Sync(RootDisk); err != nil {
		return -defs.EIO
	}
	return 0
}
