package inode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"simplefsd/internal/bitmap"
	"simplefsd/internal/disk"
)

// ErrOutOfRange is returned when a logical block index exceeds the
// largest offset the direct/single/double indirect scheme can address.
var ErrOutOfRange = errors.New("inode: logical block index out of range")

// resolveBlock maps a logical block index within a file to the
// physical block number that stores it. When allocateIfMissing is
// true, unallocated data blocks and indirect structures are created
// lazily; newly allocated indirect pointer blocks are zeroed, while a
// newly allocated data block is not written here (WriteAll writes each
// block it allocates in full, zero-padded).
func resolveBlock(n *Inode, logicalIndex int, allocateIfMissing bool, bm *bitmap.Bitmap, store *disk.Store) (uint32, bool, error) {
	switch {
	case logicalIndex < disk.DirectSlots:
		return resolveDirect(n, logicalIndex, allocateIfMissing, bm)

	case logicalIndex < disk.DirectSlots+disk.PointersPerBlock:
		return resolveSingleIndirect(n, logicalIndex-disk.DirectSlots, allocateIfMissing, bm, store)

	case logicalIndex < disk.MaxLogicalBlocks:
		idx := logicalIndex - disk.DirectSlots - disk.PointersPerBlock
		first := idx / disk.PointersPerBlock
		second := idx % disk.PointersPerBlock
		return resolveDoubleIndirect(n, first, second, allocateIfMissing, bm, store)

	default:
		return 0, false, fmt.Errorf("%w: %d", ErrOutOfRange, logicalIndex)
	}
}

func resolveDirect(n *Inode, index int, allocateIfMissing bool, bm *bitmap.Bitmap) (uint32, bool, error) {
	if n.Addr[index] != 0 {
		return n.Addr[index], false, nil
	}
	if !allocateIfMissing {
		return 0, false, nil
	}
	id, ok := bm.AllocFirst()
	if !ok {
		return 0, false, fmt.Errorf("inode: no free data blocks")
	}
	n.Addr[index] = disk.BitToDataBlock(id)
	return n.Addr[index], true, nil
}

func resolveSingleIndirect(n *Inode, ptrIndex int, allocateIfMissing bool, bm *bitmap.Bitmap, store *disk.Store) (uint32, bool, error) {
	ptrBlock, allocatedPtrBlock, err := ensurePointerBlock(&n.Addr[disk.SingleIndirectSlot], allocateIfMissing, bm, store)
	if err != nil || ptrBlock == 0 {
		return 0, false, err
	}
	ptrs, err := readPtrBlock(store, ptrBlock)
	if err != nil {
		return 0, false, err
	}
	if ptrs[ptrIndex] != 0 {
		return ptrs[ptrIndex], allocatedPtrBlock, nil
	}
	if !allocateIfMissing {
		return 0, allocatedPtrBlock, nil
	}
	id, ok := bm.AllocFirst()
	if !ok {
		return 0, false, fmt.Errorf("inode: no free data blocks")
	}
	ptrs[ptrIndex] = disk.BitToDataBlock(id)
	if err := writePtrBlock(store, ptrBlock, ptrs); err != nil {
		return 0, false, err
	}
	return ptrs[ptrIndex], true, nil
}

func resolveDoubleIndirect(n *Inode, first, second int, allocateIfMissing bool, bm *bitmap.Bitmap, store *disk.Store) (uint32, bool, error) {
	l1Block, allocatedAny, err := ensurePointerBlock(&n.Addr[disk.DoubleIndirectSlot], allocateIfMissing, bm, store)
	if err != nil || l1Block == 0 {
		return 0, false, err
	}
	l1Ptrs, err := readPtrBlock(store, l1Block)
	if err != nil {
		return 0, false, err
	}
	l2Block, allocatedL2, err := ensurePointerBlock(&l1Ptrs[first], allocateIfMissing, bm, store)
	if err != nil {
		return 0, false, err
	}
	if allocatedL2 {
		if err := writePtrBlock(store, l1Block, l1Ptrs); err != nil {
			return 0, false, err
		}
		allocatedAny = true
	}
	if l2Block == 0 {
		return 0, allocatedAny, nil
	}
	l2Ptrs, err := readPtrBlock(store, l2Block)
	if err != nil {
		return 0, false, err
	}
	if l2Ptrs[second] != 0 {
		return l2Ptrs[second], allocatedAny, nil
	}
	if !allocateIfMissing {
		return 0, allocatedAny, nil
	}
	id, ok := bm.AllocFirst()
	if !ok {
		return 0, false, fmt.Errorf("inode: no free data blocks")
	}
	l2Ptrs[second] = disk.BitToDataBlock(id)
	if err := writePtrBlock(store, l2Block, l2Ptrs); err != nil {
		return 0, false, err
	}
	return l2Ptrs[second], true, nil
}

// ensurePointerBlock returns the block number held in *slot, allocating
// and zeroing a fresh pointer block if the slot is empty and creation
// was requested.
func ensurePointerBlock(slot *uint32, allocateIfMissing bool, bm *bitmap.Bitmap, store *disk.Store) (uint32, bool, error) {
	if *slot != 0 {
		return *slot, false, nil
	}
	if !allocateIfMissing {
		return 0, false, nil
	}
	id, ok := bm.AllocFirst()
	if !ok {
		return 0, false, fmt.Errorf("inode: no free data blocks")
	}
	block := disk.BitToDataBlock(id)
	if err := store.ZeroBlock(int(block)); err != nil {
		return 0, false, err
	}
	*slot = block
	return block, true, nil
}

func readPtrBlock(store *disk.Store, block uint32) ([]uint32, error) {
	raw, err := store.ReadBlock(int(block))
	if err != nil {
		return nil, err
	}
	ptrs := make([]uint32, disk.PointersPerBlock)
	for i := range ptrs {
		ptrs[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
	}
	return ptrs, nil
}

func writePtrBlock(store *disk.Store, block uint32, ptrs []uint32) error {
	raw := make([]byte, disk.BlockSize)
	for i, p := range ptrs {
		binary.LittleEndian.PutUint32(raw[i*4:i*4+4], p)
	}
	return store.WriteBlock(int(block), raw)
}

// ResolveForRead returns the physical block for a logical index,
// or 0 if that region of the file has never been written (a hole).
func ResolveForRead(n *Inode, logicalIndex int, store *disk.Store) (uint32, error) {
	block, _, err := resolveBlock(n, logicalIndex, false, nil, store)
	return block, err
}

// ResolveForWrite returns the physical block for a logical index,
// allocating direct and indirect structures as needed. The caller is
// responsible for persisting the mutated inode afterward.
func ResolveForWrite(n *Inode, logicalIndex int, bm *bitmap.Bitmap, store *disk.Store) (uint32, error) {
	block, _, err := resolveBlock(n, logicalIndex, true, bm, store)
	return block, err
}

// Truncate frees every data block, and indirect structure, that lies
// at or beyond the block ceil(newSize/BlockSize). It does not shrink
// blocks in place; a partially used final block keeps its trailing
// bytes on disk, exactly as before truncation, since readers always
// clamp reads to Size.
func Truncate(n *Inode, newSize uint32, bm *bitmap.Bitmap, store *disk.Store) error {
	keepBlocks := int((newSize + disk.BlockSize - 1) / disk.BlockSize)

	for i := keepBlocks; i < disk.DirectSlots; i++ {
		if n.Addr[i] != 0 {
			freeDataBlock(bm, n.Addr[i])
			n.Addr[i] = 0
		}
	}

	if err := truncateSingleIndirect(n, keepBlocks, bm, store); err != nil {
		return err
	}
	if err := truncateDoubleIndirect(n, keepBlocks, bm, store); err != nil {
		return err
	}

	n.Size = newSize
	return nil
}

func truncateSingleIndirect(n *Inode, keepBlocks int, bm *bitmap.Bitmap, store *disk.Store) error {
	if n.Addr[disk.SingleIndirectSlot] == 0 {
		return nil
	}
	base := disk.DirectSlots
	ptrBlock := n.Addr[disk.SingleIndirectSlot]
	ptrs, err := readPtrBlock(store, ptrBlock)
	if err != nil {
		return err
	}
	changed := false
	anyLeft := false
	for i, p := range ptrs {
		logical := base + i
		if logical >= keepBlocks && p != 0 {
			freeDataBlock(bm, p)
			ptrs[i] = 0
			changed = true
			continue
		}
		if p != 0 {
			anyLeft = true
		}
	}
	if changed {
		if err := writePtrBlock(store, ptrBlock, ptrs); err != nil {
			return err
		}
	}
	if !anyLeft {
		freeDataBlock(bm, ptrBlock)
		n.Addr[disk.SingleIndirectSlot] = 0
	}
	return nil
}

func truncateDoubleIndirect(n *Inode, keepBlocks int, bm *bitmap.Bitmap, store *disk.Store) error {
	if n.Addr[disk.DoubleIndirectSlot] == 0 {
		return nil
	}
	base := disk.DirectSlots + disk.PointersPerBlock
	l1Block := n.Addr[disk.DoubleIndirectSlot]
	l1Ptrs, err := readPtrBlock(store, l1Block)
	if err != nil {
		return err
	}
	l1Changed := false
	l1AnyLeft := false
	for first, l2Block := range l1Ptrs {
		if l2Block == 0 {
			continue
		}
		l2Ptrs, err := readPtrBlock(store, l2Block)
		if err != nil {
			return err
		}
		l2Changed := false
		l2AnyLeft := false
		for second, p := range l2Ptrs {
			logical := base + first*disk.PointersPerBlock + second
			if logical >= keepBlocks && p != 0 {
				freeDataBlock(bm, p)
				l2Ptrs[second] = 0
				l2Changed = true
				continue
			}
			if p != 0 {
				l2AnyLeft = true
			}
		}
		if l2Changed {
			if err := writePtrBlock(store, l2Block, l2Ptrs); err != nil {
				return err
			}
		}
		if !l2AnyLeft {
			freeDataBlock(bm, l2Block)
			l1Ptrs[first] = 0
			l1Changed = true
		} else {
			l1AnyLeft = true
		}
	}
	if l1Changed {
		if err := writePtrBlock(store, l1Block, l1Ptrs); err != nil {
			return err
		}
	}
	if !l1AnyLeft {
		freeDataBlock(bm, l1Block)
		n.Addr[disk.DoubleIndirectSlot] = 0
	}
	return nil
}

func freeDataBlock(bm *bitmap.Bitmap, block uint32) {
	bm.Free(disk.DataBlockToBit(block))
}
