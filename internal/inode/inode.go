// Package inode implements the inode record, its on-disk codec, and
// the direct/indirect addressing algorithm that maps a logical byte
// offset within a file to a physical data block.
package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"simplefsd/internal/disk"
)

// Kind distinguishes a file inode from a directory inode. The zero
// value means "unallocated slot" so a freshly zeroed inode area reads
// back as all-free without a separate liveness bit.
type Kind uint8

const (
	KindFree Kind = iota
	KindFile
	KindDir
)

// Permission bits, rwx for owner/group/other, matching spec.md's mode layout.
const (
	ModeOwnerRead = 1 << 8
	ModeOwnerWrite = 1 << 7
	ModeOwnerExec = 1 << 6
	ModeGroupRead = 1 << 5
	ModeGroupWrite = 1 << 4
	ModeGroupExec = 1 << 3
	ModeOtherRead = 1 << 2
	ModeOtherWrite = 1 << 1
	ModeOtherExec = 1 << 0

	DefaultFileMode = ModeOwnerRead | ModeOwnerWrite | ModeGroupRead | ModeOtherRead
	DefaultDirMode  = ModeOwnerRead | ModeOwnerWrite | ModeOwnerExec |
		ModeGroupRead | ModeGroupExec | ModeOtherRead | ModeOtherExec
)

// Inode is exactly 64 bytes when serialised.
type Inode struct {
	ID       uint16
	Kind     Kind
	Mode     uint16
	NLink    uint8
	UID      uint16
	GID      uint16
	Size     uint32
	MTime    uint64
	Addr     [disk.AddrSlots]uint32
	Reserved [2]byte
}

// Free reports whether the inode slot is unallocated.
func (n Inode) Free() bool { return n.Kind == KindFree }

// IsDir reports whether the inode describes a directory.
func (n Inode) IsDir() bool { return n.Kind == KindDir }

// Marshal encodes the inode to its fixed 64-byte on-disk form.
func (n Inode) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, n); err != nil {
		return nil, fmt.Errorf("inode: marshal: %w", err)
	}
	if buf.Len() != disk.InodeSize {
		return nil, fmt.Errorf("inode: encoded size %d != %d", buf.Len(), disk.InodeSize)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a 64-byte on-disk record into an Inode.
func Unmarshal(raw []byte) (Inode, error) {
	if len(raw) != disk.InodeSize {
		return Inode{}, fmt.Errorf("inode: buffer size %d != %d", len(raw), disk.InodeSize)
	}
	var n Inode
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &n); err != nil {
		return Inode{}, fmt.Errorf("inode: unmarshal: %w", err)
	}
	return n, nil
}

// Table provides indexed access to inodes by id.
type Table struct {
	store *disk.Store
}

// NewTable wraps a block store for inode access.
func NewTable(store *disk.Store) *Table {
	return &Table{store: store}
}

func offset(id uint16) (block int, byteOffset int) {
	block = disk.InodeAreaStart + int(id)/disk.InodesPerBlock
	byteOffset = (int(id) % disk.InodesPerBlock) * disk.InodeSize
	return
}

// Read loads inode id from the inode area.
func (t *Table) Read(id uint16) (Inode, error) {
	if int(id) >= disk.InodeCount {
		return Inode{}, fmt.Errorf("inode: id %d out of range", id)
	}
	block, off := offset(id)
	raw, err := t.store.ReadBlock(block)
	if err != nil {
		return Inode{}, err
	}
	return Unmarshal(raw[off : off+disk.InodeSize])
}

// Write persists an inode record, immediately (inode writes are not
// deferred to a commit point the way bitmap writes are — each write
// touches at most one block, so batching would add complexity without
// a measurable benefit here).
func (t *Table) Write(n Inode) error {
	if int(n.ID) >= disk.InodeCount {
		return fmt.Errorf("inode: id %d out of range", n.ID)
	}
	block, off := offset(n.ID)
	raw, err := t.store.ReadBlock(block)
	if err != nil {
		return err
	}
	encoded, err := n.Marshal()
	if err != nil {
		return err
	}
	copy(raw[off:off+disk.InodeSize], encoded)
	return t.store.WriteBlock(block, raw)
}
