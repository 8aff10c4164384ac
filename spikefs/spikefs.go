package spikefs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"spikeos/defs"
	"spikeos/vfs"
)

func fromKind(k uint32) defs.Node { return defs.Node(k) }

// magic identifies a spikefs image; Load refuses anything else.
const magic uint32 = 0x53504b46 // "SPKF"
const version uint32 = 1

// header occupies sector 0. It is read/written with encoding/binary
// rather than an unsafe struct cast because this layout crosses a real
// on-disk byte boundary, not just a live in-process struct, and
// binary.Write/Read gives an explicit, endian-stable wire format for
// that.
type header struct {
	Magic          uint32
	Version        uint32
	InodeCount     uint32
	PayloadSectors uint32
	PayloadBytes   uint32
}

const headerSize = 4 * 5

// Dump serializes the current vfs table and writes it to disk starting
// at sector 0: header first, then the inode/payload blob.
func Dump(disk Disk_i) error {
	snaps := vfs.Snapshot()

	var body bytes.Buffer
	for _, in := range snaps {
		binary.Write(&body, binary.LittleEndian, uint32(in.Num))
		binary.Write(&body, binary.LittleEndian, uint32(in.Kind))
		binary.Write(&body, binary.LittleEndian, uint32(in.LinkCount))
		binary.Write(&body, binary.LittleEndian, uint32(in.Size))
		binary.Write(&body, binary.LittleEndian, uint32(len(in.Data)))
		binary.Write(&body, binary.LittleEndian, uint32(len(in.Dirents)))
		body.Write(in.Data)
		for _, de := range in.Dirents {
			binary.Write(&body, binary.LittleEndian, uint16(len(de.Name)))
			body.WriteString(de.Name)
			binary.Write(&body, binary.LittleEndian, uint32(de.Ino))
		}
	}

	payloadSectors := (body.Len() + SectorSize - 1) / SectorSize
	if payloadSectors == 0 {
		payloadSectors = 1
	}
	hdr := header{
		Magic:          magic,
		Version:        version,
		InodeCount:     uint32(len(snaps)),
		PayloadSectors: uint32(payloadSectors),
		PayloadBytes:   uint32(body.Len()),
	}

	hdrSec := make([]byte, SectorSize)
	var hb bytes.Buffer
	binary.Write(&hb, binary.LittleEndian, hdr)
	copy(hdrSec, hb.Bytes())
	if err := disk.WriteSectors(0, 1, hdrSec); err != nil {
		return err
	}

	payload := make([]byte, payloadSectors*SectorSize)
	copy(payload, body.Bytes())
	if err := disk.WriteSectors(1, payloadSectors, payload); err != nil {
		return err
	}
	return disk.Flush()
}

// Load reads a spikefs image from disk and replaces the current vfs
// table with its contents. Fails if the header's magic doesn't match.
func Load(disk Disk_i) error {
	hdrSec := make([]byte, SectorSize)
	if err := disk.ReadSectors(0, 1, hdrSec); err != nil {
		return err
	}
	var hdr header
	if err := binary.Read(bytes.NewReader(hdrSec[:headerSize]), binary.LittleEndian, &hdr); err != nil {
		return err
	}
	if hdr.Magic != magic {
		return fmt.Errorf("spikefs: bad magic %#x", hdr.Magic)
	}

	payload := make([]byte, int(hdr.PayloadSectors)*SectorSize)
	if err := disk.ReadSectors(1, int(hdr.PayloadSectors), payload); err != nil {
		return err
	}
	r := bytes.NewReader(payload[:hdr.PayloadBytes])

	snaps := make([]vfs.InodeSnapshot, 0, hdr.InodeCount)
	for i := uint32(0); i < hdr.InodeCount; i++ {
		var num, kind, linkCount, size, dataLen, direntCount uint32
		binary.Read(r, binary.LittleEndian, &num)
		binary.Read(r, binary.LittleEndian, &kind)
		binary.Read(r, binary.LittleEndian, &linkCount)
		binary.Read(r, binary.LittleEndian, &size)
		binary.Read(r, binary.LittleEndian, &dataLen)
		binary.Read(r, binary.LittleEndian, &direntCount)

		data := make([]byte, dataLen)
		if _, err := r.Read(data); dataLen > 0 && err != nil {
			return err
		}

		dirents := make([]vfs.DirentSnapshot, direntCount)
		for j := uint32(0); j < direntCount; j++ {
			var nameLen uint16
			binary.Read(r, binary.LittleEndian, &nameLen)
			name := make([]byte, nameLen)
			if _, err := r.Read(name); nameLen > 0 && err != nil {
				return err
			}
			var ino uint32
			binary.Read(r, binary.LittleEndian, &ino)
			dirents[j] = vfs.DirentSnapshot{Name: string(name), Ino: int(ino)}
		}

		snaps = append(snaps, vfs.InodeSnapshot{
			Num:       int(num),
			Kind:      fromKind(kind),
			Size:      int(size),
			LinkCount: int(linkCount),
			Data:      data,
			Dirents:   dirents,
		})
	}

	vfs.Restore(snaps)
	return nil
}

// Sync writes the image to disk only if the vfs table has mutated
// since the last sync, clearing the dirty flag on success. Invoked
// explicitly by a syscall and periodically by a shell idle hook.
func Sync(disk Disk_i) error {
	if !vfs.Dirty() {
		return nil
	}
	if err := Dump(disk); err != nil {
		return err
	}
	vfs.ClearDirty()
	return nil
}
