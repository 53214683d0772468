package disk

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Superblock is the first block of the image and describes the layout
// of every other region. Fields are written in a fixed order with
// encoding/binary so the wire format never depends on host struct
// alignment.
type Superblock struct {
	Magic             uint32
	BlockSize         uint32
	TotalBlocks       uint32
	InodeBitmapStart  uint32
	InodeBitmapBlocks uint32
	InodeAreaStart    uint32
	InodeAreaBlocks   uint32
	DataBitmapStart   uint32
	DataBitmapBlocks  uint32
	DataAreaStart     uint32
	DataAreaBlocks    uint32
	RootInode         uint16
}

// NewSuperblock builds the canonical superblock for this layout. It is
// the single source of truth fsck rewrites the on-disk copy from.
func NewSuperblock() Superblock {
	return Superblock{
		Magic:             magic,
		BlockSize:         BlockSize,
		TotalBlocks:       TotalBlocks,
		InodeBitmapStart:  InodeBitmapStart,
		InodeBitmapBlocks: InodeBitmapBlocks,
		InodeAreaStart:    InodeAreaStart,
		InodeAreaBlocks:   InodeBlocks,
		DataBitmapStart:   DataBitmapStart,
		DataBitmapBlocks:  DataBitmapBlocks,
		DataAreaStart:     DataAreaStart,
		DataAreaBlocks:    DataAreaBlocks,
		RootInode:         RootInodeID,
	}
}

// Valid reports whether the magic constant matches; an image failing
// this check is treated as uninitialised.
func (s Superblock) Valid() bool {
	return s.Magic == magic
}

// Marshal serialises the superblock into a zero-padded 1 KiB block.
func (s Superblock) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		return nil, fmt.Errorf("disk: marshal superblock: %w", err)
	}
	if buf.Len() > BlockSize {
		return nil, fmt.Errorf("disk: superblock exceeds block size (%d > %d)", buf.Len(), BlockSize)
	}
	out := make([]byte, BlockSize)
	copy(out, buf.Bytes())
	return out, nil
}

// UnmarshalSuperblock decodes a superblock from a raw block buffer.
func UnmarshalSuperblock(block []byte) (Superblock, error) {
	var s Superblock
	r := bytes.NewReader(block)
	if err := binary.Read(r, binary.LittleEndian, &s); err != nil {
		return Superblock{}, fmt.Errorf("disk: unmarshal superblock: %w", err)
	}
	return s, nil
}
