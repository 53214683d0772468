package disk

import (
	"fmt"
	"os"
)

// Store is the host-file backing store: a single regular file treated
// as a random-access device of fixed-size blocks. It performs no
// locking of its own — callers (the engine) serialise access under
// the whole-image lock described by the concurrency model.
type Store struct {
	f *os.File
}

// Open opens an existing image file for read/write block access.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("disk: open image: %w", err)
	}
	return &Store{f: f}, nil
}

// Format creates (or truncates) the image file at path, sizes it to
// exactly TotalBlocks*BlockSize bytes, and writes a canonical
// superblock plus zeroed bitmaps, mirroring the teacher's approach of
// seeking to the last byte and writing a single zero to preallocate
// the file without materialising every block.
func Format(path string) (*Store, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("disk: create image: %w", err)
	}
	total := int64(TotalBlocks) * BlockSize
	if _, err := f.WriteAt([]byte{0}, total-1); err != nil {
		f.Close()
		return nil, fmt.Errorf("disk: preallocate image: %w", err)
	}
	s := &Store{f: f}

	sb := NewSuperblock()
	sbBytes, err := sb.Marshal()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := s.WriteBlock(SuperblockNumber, sbBytes); err != nil {
		f.Close()
		return nil, err
	}

	zero := make([]byte, BlockSize)
	for b := InodeBitmapStart; b < InodeBitmapStart+InodeBitmapBlocks; b++ {
		if err := s.WriteBlock(b, zero); err != nil {
			f.Close()
			return nil, err
		}
	}
	for b := DataBitmapStart; b < DataBitmapStart+DataBitmapBlocks; b++ {
		if err := s.WriteBlock(b, zero); err != nil {
			f.Close()
			return nil, err
		}
	}
	for b := InodeAreaStart; b < InodeAreaStart+InodeBlocks; b++ {
		if err := s.WriteBlock(b, zero); err != nil {
			f.Close()
			return nil, err
		}
	}
	return s, nil
}

// ReadBlock returns a copy of the raw contents of block n.
func (s *Store) ReadBlock(n int) ([]byte, error) {
	if n < 0 || n >= TotalBlocks {
		return nil, fmt.Errorf("disk: block %d out of range", n)
	}
	buf := make([]byte, BlockSize)
	if _, err := s.f.ReadAt(buf, int64(n)*BlockSize); err != nil {
		return nil, fmt.Errorf("disk: read block %d: %w", n, err)
	}
	return buf, nil
}

// WriteBlock writes exactly BlockSize bytes of data to block n,
// zero-padding a short buffer.
func (s *Store) WriteBlock(n int, data []byte) error {
	if n < 0 || n >= TotalBlocks {
		return fmt.Errorf("disk: block %d out of range", n)
	}
	if len(data) > BlockSize {
		return fmt.Errorf("disk: block %d payload exceeds block size", n)
	}
	buf := data
	if len(buf) < BlockSize {
		buf = make([]byte, BlockSize)
		copy(buf, data)
	}
	if _, err := s.f.WriteAt(buf, int64(n)*BlockSize); err != nil {
		return fmt.Errorf("disk: write block %d: %w", n, err)
	}
	return nil
}

// ZeroBlock clears block n to all zero bytes.
func (s *Store) ZeroBlock(n int) error {
	return s.WriteBlock(n, make([]byte, BlockSize))
}

// Sync flushes pending writes to the host filesystem. Every mutating
// engine operation calls this before releasing the exclusive lock.
func (s *Store) Sync() error {
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("disk: sync: %w", err)
	}
	return nil
}

// Close releases the underlying host file handle.
func (s *Store) Close() error {
	return s.f.Close()
}

// LoadSuperblock reads and decodes the superblock at block 0.
func (s *Store) LoadSuperblock() (Superblock, error) {
	block, err := s.ReadBlock(SuperblockNumber)
	if err != nil {
		return Superblock{}, err
	}
	return UnmarshalSuperblock(block)
}
