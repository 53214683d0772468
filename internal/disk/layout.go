// Package disk implements the on-disk block layout of the simulated
// filesystem image: the fixed-size backing store, the block codec, and
// the superblock that describes where every other region lives.
package disk

const (
	// BlockSize is the addressing unit of the image, in bytes.
	BlockSize = 1024

	// TotalBlocks is the fixed image size in blocks (100 MiB / 1 KiB).
	TotalBlocks = 100 * 1024

	// InodeSize is the exact on-disk size of a serialised inode.
	InodeSize = 64

	// InodeCount is the total number of inodes the image can hold.
	InodeCount = 8192

	// InodesPerBlock is how many 64 B inode records fit in one block.
	InodesPerBlock = BlockSize / InodeSize

	// InodeBlocks is the number of blocks reserved for the inode area.
	InodeBlocks = InodeCount / InodesPerBlock

	// InodeBitmapBlocks holds one bit per inode: 8192 bits == 1024 B == 1 block.
	InodeBitmapBlocks = 1

	// DataBitmapBlocks holds one bit per data block. 13 blocks give
	// 106496 bits, comfortably covering the ~101.8K blocks the data
	// area works out to once the rest of the fixed regions are laid
	// out (the two sizes are mutually dependent, so this is chosen by
	// solving the inequality rather than derived from a constant).
	DataBitmapBlocks = 13

	// DirEntrySize is the exact on-disk size of a directory entry.
	DirEntrySize = 16

	// AddrSlots is the number of block-pointer slots in an inode.
	AddrSlots = 10

	// DirectSlots is how many of the addr slots are direct block pointers.
	DirectSlots = 8

	// SingleIndirectSlot is the addr index holding the single-indirect block number.
	SingleIndirectSlot = 8

	// DoubleIndirectSlot is the addr index holding the double-indirect block number.
	DoubleIndirectSlot = 9

	// PointersPerBlock is how many 4-byte block pointers fit in one indirect block.
	PointersPerBlock = BlockSize / 4

	// MaxLogicalBlocks is the largest logical block index a file can address.
	MaxLogicalBlocks = DirectSlots + PointersPerBlock + PointersPerBlock*PointersPerBlock

	// MaxFileSize is the largest file size representable by the addressing scheme.
	MaxFileSize = MaxLogicalBlocks * BlockSize

	// RootInodeID is the inode id assigned to the root directory by format.
	RootInodeID = 0

	// magic identifies a formatted image; anything else means "uninitialised".
	magic = 0x53465331 // "SFS1"
)

// Block layout, computed once so every package agrees on it.
const (
	SuperblockNumber = 0
	InodeBitmapStart = SuperblockNumber + 1
	DataBitmapStart  = InodeBitmapStart + InodeBitmapBlocks
	InodeAreaStart   = DataBitmapStart + DataBitmapBlocks
	DataAreaStart    = InodeAreaStart + InodeBlocks
	DataAreaBlocks   = TotalBlocks - DataAreaStart
)

// DataBlockToBit converts an absolute block number in the data area to
// its bit index in the data bitmap.
func DataBlockToBit(block uint32) int { return int(block) - DataAreaStart }

// BitToDataBlock converts a data-bitmap bit index back to an absolute
// block number.
func BitToDataBlock(bit int) uint32 { return uint32(bit + DataAreaStart) }
