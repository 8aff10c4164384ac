// Package spikefs persists the in-memory vfs package to a block device:
// a fixed-size header at sector 0 declaring counts, followed by the
// dumped inode table and concatenated variable-length payloads. Load
// reverses this. No journaling, no integrity check beyond a
// magic-number match in the header.
package spikefs

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the ATA sector size spikefs lays its image out in.
const SectorSize = 512

// Disk_i is the ATA PIO block-device collaborator spikefs is the sole
// user of: read_sectors/write_sectors/flush.
type Disk_i interface {
	ReadSectors(lba, count int, buf []byte) error
	WriteSectors(lba, count int, buf []byte) error
	Flush() error
}

// FileDisk_t simulates an ATA disk backed by a host file: seek-then-
// read/write under a lock so a request is atomic.
type FileDisk_t struct {
	mu sync.Mutex
	f  *os.File
}

// OpenFileDisk opens (creating if necessary) a file-backed disk image.
func OpenFileDisk(path string) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return &FileDisk_t{f: f}, nil
}

func (d *FileDisk_t) ReadSectors(lba, count int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) < count*SectorSize {
		return fmt.Errorf("spikefs: read buffer too small for %d sectors", count)
	}
	if _, err := d.f.Seek(int64(lba)*SectorSize, 0); err != nil {
		return err
	}
	n, err := d.f.Read(buf[:count*SectorSize])
	if err != nil {
		return err
	}
	if n != count*SectorSize {
		// short read past end-of-file on a fresh image reads as zeros
		for i := n; i < count*SectorSize; i++ {
			buf[i] = 0
		}
	}
	return nil
}

func (d *FileDisk_t) WriteSectors(lba, count int, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buf) < count*SectorSize {
		return fmt.Errorf("spikefs: write buffer too small for %d sectors", count)
	}
	if _, err := d.f.Seek(int64(lba)*SectorSize, 0); err != nil {
		return err
	}
	_, err := d.f.Write(buf[:count*SectorSize])
	return err
}

func (d *FileDisk_t) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Sync()
}

// Close releases the backing file.
func (d *FileDisk_t) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
