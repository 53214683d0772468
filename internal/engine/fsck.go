package engine

import (
	"fmt"

	"simplefsd/internal/dirent"
	"simplefsd/internal/disk"
	"simplefsd/internal/inode"
)

// CheckReport summarises what fsck found and fixed.
type CheckReport struct {
	InodesReconstructed   int
	DataBlocksReconstructed int
	LeakedInodesCleared   int
	LeakedDataBlocksCleared int
	CorruptInodeBits      []int
	CorruptDataBits       []int
}

// Check walks the reachable inode and block graph from root and
// rebuilds both bitmaps from scratch, the same way a real fsck trusts
// only the directory tree and not the allocation metadata. Bits set on
// disk but never reached are cleared as leaked; bits reached but not
// set on disk are reported as corruption before being set.
func (e *Engine) Check() (CheckReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	visitedInodes := make(map[uint16]bool)
	visitedDataBits := make(map[int]bool)

	if err := e.walkInode(e.rootID, visitedInodes, visitedDataBits); err != nil {
		return CheckReport{}, newErr(KindInternal, "fsck", err)
	}

	report := CheckReport{}
	oldInodeBits := e.inodeBM.Snapshot()
	newInodeBits := make([]byte, len(oldInodeBits))
	for id := range visitedInodes {
		setBit(newInodeBits, int(id))
		report.InodesReconstructed++
	}
	for i := 0; i < len(oldInodeBits)*8; i++ {
		onDisk := bitSet(oldInodeBits, i)
		reachable := bitSet(newInodeBits, i)
		if onDisk && !reachable {
			report.LeakedInodesCleared++
		}
		if reachable && !onDisk {
			report.CorruptInodeBits = append(report.CorruptInodeBits, i)
		}
	}
	e.inodeBM.Replace(newInodeBits)

	oldDataBits := e.dataBM.Snapshot()
	newDataBits := make([]byte, len(oldDataBits))
	for bit := range visitedDataBits {
		setBit(newDataBits, bit)
		report.DataBlocksReconstructed++
	}
	for i := 0; i < len(oldDataBits)*8; i++ {
		onDisk := bitSet(oldDataBits, i)
		reachable := bitSet(newDataBits, i)
		if onDisk && !reachable {
			report.LeakedDataBlocksCleared++
		}
		if reachable && !onDisk {
			report.CorruptDataBits = append(report.CorruptDataBits, i)
		}
	}
	e.dataBM.Replace(newDataBits)

	sb := disk.NewSuperblock()
	sbBytes, err := sb.Marshal()
	if err != nil {
		return CheckReport{}, newErr(KindInternal, "fsck", err)
	}
	if err := e.store.WriteBlock(disk.SuperblockNumber, sbBytes); err != nil {
		return CheckReport{}, newErr(KindInternal, "fsck", err)
	}

	if err := e.commit(); err != nil {
		return CheckReport{}, err
	}
	return report, nil
}

func (e *Engine) walkInode(id uint16, visitedInodes map[uint16]bool, visitedDataBits map[int]bool) error {
	if visitedInodes[id] {
		return nil
	}
	visitedInodes[id] = true

	n, err := e.inodes.Read(id)
	if err != nil {
		return err
	}
	if n.Free() {
		return nil
	}

	if err := walkAddressing(&n, e.store, visitedDataBits); err != nil {
		return err
	}

	if !n.IsDir() {
		return nil
	}
	content, err := inode.ReadAll(&n, e.store)
	if err != nil {
		return err
	}
	entries, err := dirent.DecodeAll(content)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.Name == "." || ent.Name == ".." {
			continue
		}
		if err := e.walkInode(ent.InodeID, visitedInodes, visitedDataBits); err != nil {
			return err
		}
	}
	return nil
}

// walkAddressing marks every data block reachable from n, including
// the indirect pointer blocks themselves, not just the leaves.
func walkAddressing(n *inode.Inode, store *disk.Store, visited map[int]bool) error {
	for i := 0; i < disk.DirectSlots; i++ {
		if n.Addr[i] != 0 {
			visited[disk.DataBlockToBit(n.Addr[i])] = true
		}
	}
	if l1 := n.Addr[disk.SingleIndirectSlot]; l1 != 0 {
		visited[disk.DataBlockToBit(l1)] = true
		ptrs, err := readPtrBlockForFsck(store, l1)
		if err != nil {
			return err
		}
		for _, p := range ptrs {
			if p != 0 {
				visited[disk.DataBlockToBit(p)] = true
			}
		}
	}
	if l1 := n.Addr[disk.DoubleIndirectSlot]; l1 != 0 {
		visited[disk.DataBlockToBit(l1)] = true
		l1Ptrs, err := readPtrBlockForFsck(store, l1)
		if err != nil {
			return err
		}
		for _, l2 := range l1Ptrs {
			if l2 == 0 {
				continue
			}
			visited[disk.DataBlockToBit(l2)] = true
			l2Ptrs, err := readPtrBlockForFsck(store, l2)
			if err != nil {
				return err
			}
			for _, p := range l2Ptrs {
				if p != 0 {
					visited[disk.DataBlockToBit(p)] = true
				}
			}
		}
	}
	return nil
}

func readPtrBlockForFsck(store *disk.Store, block uint32) ([]uint32, error) {
	raw, err := store.ReadBlock(int(block))
	if err != nil {
		return nil, fmt.Errorf("fsck: read pointer block %d: %w", block, err)
	}
	ptrs := make([]uint32, disk.PointersPerBlock)
	for i := range ptrs {
		ptrs[i] = leUint32(raw[i*4 : i*4+4])
	}
	return ptrs, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func setBit(bits []byte, id int) {
	bits[id/8] |= 1 << uint(id%8)
}

func bitSet(bits []byte, id int) bool {
	return bits[id/8]&(1<<uint(id%8)) != 0
}
