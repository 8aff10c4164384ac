// Package vfs is the in-memory filesystem: a growable inode table,
// directory entries accelerated by a name hashtable, path resolution
// relative to a process's cwd, and the usual create/mkdir/remove/
// rename/read/write operations. Inode 0 is the root directory and is
// never freed. A package-level dirty flag is set on every mutation and
// cleared by package spikefs's Sync.
package vfs

import (
	"sync"

	"spikeos/defs"
	"spikeos/fd"
	"spikeos/fdops"
	"spikeos/hashtable"
	"spikeos/limits"
	"spikeos/ustr"
)

type dirent_t struct {
	name ustr.Ustr
	ino  int
}

// Inode_t is one VFS inode: a FILE's Data is its byte contents, a DIR's
// Dirents is its growable entry array (accelerated by names for O(1)
// average lookup).
type Inode_t struct {
	num       int
	Kind      defs.Node
	Size      int
	LinkCount int
	Data      []byte
	Dirents   []dirent_t
	names     *hashtable.Hashtable_t
}

// Inum satisfies fdops.Inoder.
func (in *Inode_t) Inum() int { return in.num }

var (
	mu     sync.Mutex
	inodes []*Inode_t
	free   []int
	dirty  bool
)

// Init (re)builds an empty filesystem with only the root directory.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	inodes = make([]*Inode_t, limits.Syslimit.InodeInitial)
	free = nil
	root := &Inode_t{num: 0, Kind: defs.NODE_DIR, LinkCount: 2}
	root.names = hashtable.MkHash(limits.Syslimit.DirentInitial)
	inodes[0] = root
	addDirent(root, ustr.MkUstrDot(), 0)
	addDirent(root, ustr.DotDot, 0)
	for i := 1; i < len(inodes); i++ {
		free = append(free, i)
	}
	dirty = false
}

// Dirty reports whether the filesystem has mutated since the last sync.
func Dirty() bool {
	mu.Lock()
	defer mu.Unlock()
	return dirty
}

// ClearDirty is called by package spikefs once a sync has completed.
func ClearDirty() {
	mu.Lock()
	defer mu.Unlock()
	dirty = false
}

func addDirent(dir *Inode_t, name ustr.Ustr, ino int) {
	cp := make(ustr.Ustr, len(name))
	copy(cp, name)
	dir.Dirents = append(dir.Dirents, dirent_t{name: cp, ino: ino})
	dir.names.Set(string(cp), len(dir.Dirents)-1)
	dir.Size = len(dir.Dirents)
}

func lookupDirent(dir *Inode_t, name ustr.Ustr) (int, bool) {
	v, ok := dir.names.Get(string(name))
	if !ok {
		return 0, false
	}
	idx := v.(int)
	return dir.Dirents[idx].ino, true
}

// removeDirent drops name from dir via swap-with-last, O(1).
func removeDirent(dir *Inode_t, name ustr.Ustr) bool {
	v, ok := dir.names.Get(string(name))
	if !ok {
		return false
	}
	idx := v.(int)
	last := len(dir.Dirents) - 1
	removed := dir.Dirents[idx].name
	if idx != last {
		dir.Dirents[idx] = dir.Dirents[last]
		// Hashtable_t.Set only inserts absent keys, so the moved
		// entry's existing index mapping must be deleted first.
		movedName := string(dir.Dirents[idx].name)
		dir.names.Del(movedName)
		dir.names.Set(movedName, idx)
	}
	dir.Dirents = dir.Dirents[:last]
	dir.names.Del(string(removed))
	dir.Size = len(dir.Dirents)
	return true
}

func allocInode(kind defs.Node) (*Inode_t, defs.Err_t) {
	if len(free) == 0 && !growInodeTable() {
		return nil, -defs.ENOMEM
	}
	idx := free[len(free)-1]
	free = free[:len(free)-1]
	in := &Inode_t{num: idx, Kind: kind}
	if kind == defs.NODE_DIR {
		in.names = hashtable.MkHash(limits.Syslimit.DirentInitial)
	}
	inodes[idx] = in
	return in, 0
}

func growInodeTable() bool {
	cur := len(inodes)
	if cur >= limits.Syslimit.InodeCap {
		return false
	}
	next := cur * 2
	if next > limits.Syslimit.InodeCap {
		next = limits.Syslimit.InodeCap
	}
	grown := make([]*Inode_t, next)
	copy(grown, inodes)
	for i := cur; i < next; i++ {
		free = append(free, i)
	}
	inodes = grown
	return true
}

func freeInode(idx int) {
	if idx == 0 {
		panic("vfs: root inode freed")
	}
	inodes[idx] = nil
	free = append(free, idx)
}

func resolveAbsoluteLocked(full ustr.Ustr) (int, defs.Err_t) {
	cur := 0
	for _, t := range full.Tokenize() {
		dir := inodes[cur]
		if dir == nil || dir.Kind != defs.NODE_DIR {
			return 0, -defs.ENOTDIR
		}
		ino, ok := lookupDirent(dir, t)
		if !ok {
			return 0, -defs.ENOENT
		}
		cur = ino
	}
	return cur, 0
}

func resolveLocked(cwd *fd.Cwd_t, path ustr.Ustr) (int, defs.Err_t) {
	return resolveAbsoluteLocked(cwd.Canonicalpath(path))
}

// resolveParentLocked resolves every path component but the last,
// returning the parent directory's inode number and the unresolved
// leaf name.
func resolveParentLocked(cwd *fd.Cwd_t, path ustr.Ustr) (int, ustr.Ustr, defs.Err_t) {
	toks := cwd.Canonicalpath(path).Tokenize()
	if len(toks) == 0 {
		return 0, nil, -defs.EINVAL
	}
	cur := 0
	for _, t := range toks[:len(toks)-1] {
		dir := inodes[cur]
		if dir == nil || dir.Kind != defs.NODE_DIR {
			return 0, nil, -defs.ENOTDIR
		}
		ino, ok := lookupDirent(dir, t)
		if !ok {
			return 0, nil, -defs.ENOENT
		}
		cur = ino
	}
	return cur, toks[len(toks)-1], 0
}

// Resolve walks path (relative to cwd if not absolute) to its inode
// number.
func Resolve(cwd *fd.Cwd_t, path ustr.Ustr) (int, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	return resolveLocked(cwd, path)
}

// Create makes a new, empty regular file at path and returns its inode
// number. Fails with EEXIST if something already exists there.
func Create(cwd *fd.Cwd_t, path ustr.Ustr) (int, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	parent, leaf, err := resolveParentLocked(cwd, path)
	if err != 0 {
		return 0, err
	}
	pdir := inodes[parent]
	if pdir.Kind != defs.NODE_DIR {
		return 0, -defs.ENOTDIR
	}
	if _, exists := lookupDirent(pdir, leaf); exists {
		return 0, -defs.EEXIST
	}
	in, err := allocInode(defs.NODE_FILE)
	if err != 0 {
		return 0, err
	}
	in.LinkCount = 1
	addDirent(pdir, leaf, in.num)
	dirty = true
	return in.num, 0
}

// Mkdir creates a new, empty directory (with "." and "..") at path.
func Mkdir(cwd *fd.Cwd_t, path ustr.Ustr) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	parent, leaf, err := resolveParentLocked(cwd, path)
	if err != 0 {
		return err
	}
	pdir := inodes[parent]
	if pdir.Kind != defs.NODE_DIR {
		return -defs.ENOTDIR
	}
	if _, exists := lookupDirent(pdir, leaf); exists {
		return -defs.EEXIST
	}
	in, err := allocInode(defs.NODE_DIR)
	if err != 0 {
		return err
	}
	in.LinkCount = 2
	addDirent(in, ustr.MkUstrDot(), in.num)
	addDirent(in, ustr.DotDot, parent)
	addDirent(pdir, leaf, in.num)
	pdir.LinkCount++
	dirty = true
	return 0
}

// Remove unlinks path. wantDir distinguishes rmdir from unlink: a
// directory target requires wantDir and must be empty (only "." and
// "..") and not the root or the caller's current directory.
func Remove(cwd *fd.Cwd_t, path ustr.Ustr, wantDir bool) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	parent, leaf, err := resolveParentLocked(cwd, path)
	if err != 0 {
		return err
	}
	if leaf.Isdot() || leaf.Isdotdot() {
		return -defs.EINVAL
	}
	pdir := inodes[parent]
	ino, exists := lookupDirent(pdir, leaf)
	if !exists {
		return -defs.ENOENT
	}
	if ino == 0 {
		return -defs.EBUSY
	}
	if cwdino, _ := resolveAbsoluteLocked(cwd.Path); cwdino == ino {
		return -defs.EBUSY
	}
	target := inodes[ino]
	switch {
	case target.Kind == defs.NODE_DIR && !wantDir:
		return -defs.EISDIR
	case target.Kind != defs.NODE_DIR && wantDir:
		return -defs.ENOTDIR
	case target.Kind == defs.NODE_DIR && len(target.Dirents) > 2:
		return -defs.ENOTEMPTY
	}
	removeDirent(pdir, leaf)
	target.LinkCount--
	if target.Kind == defs.NODE_DIR {
		pdir.LinkCount--
	}
	if target.LinkCount <= 0 {
		freeInode(ino)
	}
	dirty = true
	return 0
}

// Rename moves oldp to newp, updating the moved directory's ".." entry
// when it crosses into a different parent. Refuses to overwrite an
// existing entry at newp.
func Rename(cwd *fd.Cwd_t, oldp, newp ustr.Ustr) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	oldParent, oldLeaf, err := resolveParentLocked(cwd, oldp)
	if err != 0 {
		return err
	}
	newParent, newLeaf, err := resolveParentLocked(cwd, newp)
	if err != 0 {
		return err
	}
	srcDir := inodes[oldParent]
	ino, exists := lookupDirent(srcDir, oldLeaf)
	if !exists {
		return -defs.ENOENT
	}
	dstDir := inodes[newParent]
	if _, exists := lookupDirent(dstDir, newLeaf); exists {
		return -defs.EEXIST
	}
	removeDirent(srcDir, oldLeaf)
	addDirent(dstDir, newLeaf, ino)
	moved := inodes[ino]
	if moved.Kind == defs.NODE_DIR && oldParent != newParent {
		for i := range moved.Dirents {
			if moved.Dirents[i].name.Isdotdot() {
				moved.Dirents[i].ino = newParent
				break
			}
		}
		srcDir.LinkCount--
		dstDir.LinkCount++
	}
	dirty = true
	return 0
}

// DirEntry is one resolved directory listing entry.
type DirEntry struct {
	Name string
	Ino  int
	Kind defs.Node
}

// ReadDir lists the entries of the directory at ino.
func ReadDir(ino int) ([]DirEntry, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	dir := inodes[ino]
	if dir == nil || dir.Kind != defs.NODE_DIR {
		return nil, -defs.ENOTDIR
	}
	out := make([]DirEntry, 0, len(dir.Dirents))
	for _, de := range dir.Dirents {
		child := inodes[de.ino]
		kind := defs.NODE_FREE
		if child != nil {
			kind = child.Kind
		}
		out = append(out, DirEntry{Name: de.name.String(), Ino: de.ino, Kind: kind})
	}
	return out, 0
}

// Stat fills st with ino's metadata.
func Stat(ino int, st fdops.StatAccessor) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	in := inodes[ino]
	if in == nil {
		return -defs.ENOENT
	}
	mode := uint(0644)
	if in.Kind == defs.NODE_DIR {
		mode = 0755
	}
	st.Wino(uint(ino))
	st.Wmode(mode)
	st.Wsize(uint(in.Size))
	return 0
}

// File_t is the Fdops_i an open VFS file or directory is exposed
// through; dup/dup2 share one File_t (and hence its offset), matching
// the Reopen-bumps-refcount pattern the fd package already uses.
type File_t struct {
	ino    int
	offset int
	flags  int
}

// Open resolves path and returns a File_t for it, creating a new empty
// file when O_CREAT is set and nothing exists there yet.
func Open(cwd *fd.Cwd_t, path ustr.Ustr, flags int) (*File_t, defs.Err_t) {
	mu.Lock()
	ino, err := resolveLocked(cwd, path)
	if err == -defs.ENOENT && flags&defs.O_CREAT != 0 {
		parent, leaf, perr := resolveParentLocked(cwd, path)
		if perr != 0 {
			mu.Unlock()
			return nil, perr
		}
		pdir := inodes[parent]
		if pdir.Kind != defs.NODE_DIR {
			mu.Unlock()
			return nil, -defs.ENOTDIR
		}
		in, aerr := allocInode(defs.NODE_FILE)
		if aerr != 0 {
			mu.Unlock()
			return nil, aerr
		}
		in.LinkCount = 1
		addDirent(pdir, leaf, in.num)
		dirty = true
		ino = in.num
		err = 0
	}
	if err != 0 {
		mu.Unlock()
		return nil, err
	}
	in := inodes[ino]
	if flags&defs.O_TRUNC != 0 && in.Kind == defs.NODE_FILE {
		in.Data = nil
		in.Size = 0
		dirty = true
	}
	f := &File_t{ino: ino, flags: flags}
	if flags&defs.O_APPEND != 0 {
		f.offset = in.Size
	}
	mu.Unlock()
	return f, 0
}

func (f *File_t) Close() defs.Err_t { return 0 }

func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	in := inodes[f.ino]
	if in == nil {
		return 0, -defs.ENOENT
	}
	if in.Kind != defs.NODE_FILE {
		return 0, -defs.EISDIR
	}
	if f.offset >= len(in.Data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(in.Data[f.offset:])
	f.offset += n
	return n, err
}

func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	in := inodes[f.ino]
	if in == nil {
		return 0, -defs.ENOENT
	}
	if in.Kind != defs.NODE_FILE {
		return 0, -defs.EISDIR
	}
	if f.flags&defs.O_APPEND != 0 {
		f.offset = in.Size
	}
	need := f.offset + src.Remain()
	if need > len(in.Data) {
		grown := make([]byte, need)
		copy(grown, in.Data)
		in.Data = grown
	}
	buf := make([]uint8, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	copy(in.Data[f.offset:], buf[:n])
	f.offset += n
	if f.offset > in.Size {
		in.Size = f.offset
	}
	dirty = true
	return n, 0
}

func (f *File_t) Lseek(off, whence int) (int, defs.Err_t) {
	mu.Lock()
	defer mu.Unlock()
	in := inodes[f.ino]
	if in == nil {
		return 0, -defs.ENOENT
	}
	switch whence {
	case defs.SEEK_SET:
		f.offset = off
	case defs.SEEK_CUR:
		f.offset += off
	case defs.SEEK_END:
		f.offset = in.Size + off
	default:
		return 0, -defs.EINVAL
	}
	if f.offset < 0 {
		f.offset = 0
	}
	return f.offset, 0
}

func (f *File_t) Fstat(st fdops.StatAccessor) defs.Err_t {
	return Stat(f.ino, st)
}

func (f *File_t) Truncate(newlen uint) defs.Err_t {
	mu.Lock()
	defer mu.Unlock()
	in := inodes[f.ino]
	if in == nil {
		return -defs.ENOENT
	}
	if in.Kind != defs.NODE_FILE {
		return -defs.EISDIR
	}
	grown := make([]byte, newlen)
	copy(grown, in.Data)
	in.Data = grown
	in.Size = int(newlen)
	dirty = true
	return 0
}

func (f *File_t) Reopen() defs.Err_t { return 0 }

func (f *File_t) Pathi() fdops.Inoder {
	mu.Lock()
	defer mu.Unlock()
	return inodes[f.ino]
}

func (f *File_t) Pollone(events fdops.Ready_t) (fdops.Ready_t, defs.Err_t) {
	return events & (fdops.R_READ | fdops.R_WRITE), 0
}

// DirentSnapshot is one serializable directory entry, used by package
// spikefs to dump/restore the whole table across a sync.
type DirentSnapshot struct {
	Name string
	Ino  int
}

// InodeSnapshot is a serializable copy of one inode.
type InodeSnapshot struct {
	Num       int
	Kind      defs.Node
	Size      int
	LinkCount int
	Data      []byte
	Dirents   []DirentSnapshot
}

// Snapshot copies every live inode, in inode-number order, for on-disk
// persistence by package spikefs.
func Snapshot() []InodeSnapshot {
	mu.Lock()
	defer mu.Unlock()
	out := make([]InodeSnapshot, 0, len(inodes))
	for _, in := range inodes {
		if in == nil {
			continue
		}
		snap := InodeSnapshot{Num: in.num, Kind: in.Kind, Size: in.Size, LinkCount: in.LinkCount}
		snap.Data = append(snap.Data, in.Data...)
		for _, de := range in.Dirents {
			snap.Dirents = append(snap.Dirents, DirentSnapshot{Name: de.name.String(), Ino: de.ino})
		}
		out = append(out, snap)
	}
	return out
}

// Restore rebuilds the inode table from a snapshot previously returned
// by Snapshot, growing the table to fit the highest inode number
// present. Called by package spikefs after a successful load.
func Restore(snaps []InodeSnapshot) {
	mu.Lock()
	defer mu.Unlock()
	maxNum := 0
	for _, s := range snaps {
		if s.Num > maxNum {
			maxNum = s.Num
		}
	}
	size := limits.Syslimit.InodeInitial
	for size <= maxNum {
		size *= 2
	}
	inodes = make([]*Inode_t, size)
	present := make(map[int]bool, len(snaps))
	for _, s := range snaps {
		in := &Inode_t{num: s.Num, Kind: s.Kind, Size: s.Size, LinkCount: s.LinkCount}
		in.Data = append(in.Data, s.Data...)
		if s.Kind == defs.NODE_DIR {
			in.names = hashtable.MkHash(limits.Syslimit.DirentInitial)
		}
		for _, d := range s.Dirents {
			addDirent(in, ustr.Ustr(d.Name), d.Ino)
		}
		inodes[s.Num] = in
		present[s.Num] = true
	}
	free = nil
	for i := 0; i < len(inodes); i++ {
		if !present[i] {
			free = append(free, i)
		}
	}
	dirty = false
}
