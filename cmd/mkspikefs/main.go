// Command mkspikefs builds a SpikeFS disk image from a host directory
// tree: it walks the skeleton directory, recreates it file-for-file in
// an in-memory VFS, then dumps that VFS to a fresh disk image.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"spikeos/defs"
	"spikeos/fd"
	"spikeos/spikefs"
	"spikeos/ustr"
	"spikeos/vfs"
)

// copydata streams the host file at src into the VFS file already
// opened as dst.
func copydata(src string, dst *vfs.File_t) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	buf, err := io.ReadAll(srcFile)
	if err != nil {
		panic(err)
	}
	if _, werr := dst.Write(&sliceWriter{buf: buf}); werr != 0 {
		panic(fmt.Sprintf("write %q: errno %d", src, werr))
	}
}

// sliceWriter is a one-shot Userio_i source handing out buf's bytes.
type sliceWriter struct{ buf []byte }

func (s *sliceWriter) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, s.buf)
	s.buf = s.buf[n:]
	return n, 0
}
func (s *sliceWriter) Uiowrite([]uint8) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (s *sliceWriter) Remain() int                        { return len(s.buf) }
func (s *sliceWriter) Totalsz() int                       { return len(s.buf) }

// addfiles walks skeldir on the host and replicates its contents into
// the VFS rooted at cwd.
func addfiles(cwd *fd.Cwd_t, skeldir string) {
	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if e := vfs.Mkdir(cwd, ustr.Ustr(rel)); e != 0 {
				fmt.Printf("failed to create dir %v: errno %d\n", rel, e)
			}
			return nil
		}

		f, e := vfs.Open(cwd, ustr.Ustr(rel), defs.O_CREAT|defs.O_RDWR)
		if e != 0 {
			fmt.Printf("failed to create file %v: errno %d\n", rel, e)
			return nil
		}
		defer f.Close()
		copydata(path, f)
		return nil
	})
	if err != nil {
		fmt.Printf("error walking the path %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

func main() {
	if len(os.Args) < 3 {
		fmt.Printf("Usage: mkspikefs <output image> <skel dir>\n")
		os.Exit(1)
	}
	image := os.Args[1]
	skeldir := os.Args[2]

	vfs.Init()
	cwd := fd.MkRootCwd(nil)
	addfiles(cwd, skeldir)

	disk, err := spikefs.OpenFileDisk(image)
	if err != nil {
		fmt.Printf("open %q: %v\n", image, err)
		os.Exit(1)
	}
	defer disk.Close()

	if err := spikefs.Dump(disk); err != nil {
		fmt.Printf("dump SpikeFS image: %v\n", err)
		os.Exit(1)
	}
}
