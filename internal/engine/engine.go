// Package engine is the facade that ties the disk, bitmap, inode,
// dirent, pathwalk, and user packages together behind a single
// whole-image lock. Every exported method here is one shell command;
// callers never touch the lower packages directly.
package engine

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"simplefsd/internal/bitmap"
	"simplefsd/internal/dirent"
	"simplefsd/internal/disk"
	"simplefsd/internal/inode"
	"simplefsd/internal/user"
)

// UsersPath is the fixed path of the account record file, created by
// Format. It is an ordinary entry of /etc and shows up in a listing
// of that directory.
const UsersPath = "/etc/passwd"

// Engine owns the open image and its two bitmaps. Every exported
// operation takes the whole-image lock (exclusive to mutate, shared to
// read) for the duration of that one operation and releases it before
// returning, so no lock is held across a blocking read from a client.
type Engine struct {
	mu       sync.RWMutex
	store    *disk.Store
	inodeBM  *bitmap.Bitmap
	dataBM   *bitmap.Bitmap
	inodes   *inode.Table
	rootID   uint16
	log      *logrus.Entry
}

// Open loads an existing formatted image.
func Open(path string, log *logrus.Entry) (*Engine, error) {
	store, err := disk.Open(path)
	if err != nil {
		return nil, newErr(KindInternal, "open", err)
	}
	return load(store, log)
}

// Format creates a brand-new image with a root directory and an
// account file seeded with the default root account, and returns an
// engine bound to it.
func Format(path string, log *logrus.Entry) (*Engine, error) {
	store, err := disk.Format(path)
	if err != nil {
		return nil, newErr(KindInternal, "format", err)
	}
	e, err := load(store, log)
	if err != nil {
		return nil, err
	}
	if err := e.initRoot(); err != nil {
		return nil, err
	}
	return e, nil
}

func load(store *disk.Store, log *logrus.Entry) (*Engine, error) {
	inodeBM, err := bitmap.Load(store, disk.InodeBitmapStart, disk.InodeBitmapBlocks, disk.InodeCount)
	if err != nil {
		return nil, newErr(KindInternal, "load inode bitmap", err)
	}
	dataBM, err := bitmap.Load(store, disk.DataBitmapStart, disk.DataBitmapBlocks, disk.DataAreaBlocks)
	if err != nil {
		return nil, newErr(KindInternal, "load data bitmap", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		store:   store,
		inodeBM: inodeBM,
		dataBM:  dataBM,
		inodes:  inode.NewTable(store),
		rootID:  disk.RootInodeID,
		log:     log,
	}, nil
}

func (e *Engine) initRoot() error {
	rootBit, ok := e.inodeBM.AllocFirst()
	if !ok || uint16(rootBit) != e.rootID {
		return newErr(KindInternal, "init root", fmt.Errorf("root inode id mismatch: got bit %d", rootBit))
	}
	root := inode.Inode{
		ID:    e.rootID,
		Kind:  inode.KindDir,
		Mode:  inode.DefaultDirMode,
		NLink: 2,
		UID:   user.RootUID,
		GID:   user.RootUID,
	}
	entries := []dirent.Entry{
		{Name: ".", IsDir: true, InodeID: e.rootID},
		{Name: "..", IsDir: true, InodeID: e.rootID},
	}
	content, err := dirent.EncodeAll(entries)
	if err != nil {
		return newErr(KindInternal, "init root", err)
	}
	if err := inode.WriteAll(&root, content, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "init root", err)
	}
	if err := e.inodes.Write(root); err != nil {
		return newErr(KindInternal, "init root", err)
	}

	if err := e.createUsersFile(); err != nil {
		return err
	}

	return e.commit()
}

// Reformat wipes an already-open image back to a fresh state in
// place: zeroed bitmaps and inode area, a new root directory, and a
// re-seeded account file. This is what the "formatting" shell command
// drives, letting an operator reset an image without restarting the
// daemon against a brand-new file.
func (e *Engine) Reformat() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	zero := make([]byte, disk.BlockSize)
	for b := disk.InodeAreaStart; b < disk.InodeAreaStart+disk.InodeBlocks; b++ {
		if err := e.store.WriteBlock(b, zero); err != nil {
			return newErr(KindInternal, "reformat", err)
		}
	}
	e.inodeBM.Replace(make([]byte, disk.InodeBitmapBlocks*disk.BlockSize))
	e.dataBM.Replace(make([]byte, disk.DataBitmapBlocks*disk.BlockSize))
	return e.initRoot()
}

// RootID returns the inode id assigned to the filesystem root.
func (e *Engine) RootID() uint16 { return e.rootID }

// commit flushes both bitmaps and syncs the backing file. Every
// mutating operation calls this exactly once, right before releasing
// the exclusive lock, never while blocked on client input.
func (e *Engine) commit() error {
	if err := e.inodeBM.Flush(); err != nil {
		return newErr(KindInternal, "commit", err)
	}
	if err := e.dataBM.Flush(); err != nil {
		return newErr(KindInternal, "commit", err)
	}
	if err := e.store.Sync(); err != nil {
		return newErr(KindInternal, "commit", err)
	}
	return nil
}

// Close releases the underlying image file.
func (e *Engine) Close() error {
	return e.store.Close()
}

func (e *Engine) createFileInode(uid, gid uint16) (inode.Inode, error) {
	id, ok := e.inodeBM.AllocFirst()
	if !ok {
		return inode.Inode{}, newErr(KindNoSpace, "allocate inode", nil)
	}
	n := inode.Inode{
		ID:    uint16(id),
		Kind:  inode.KindFile,
		Mode:  inode.DefaultFileMode,
		NLink: 1,
		UID:   uid,
		GID:   gid,
	}
	if err := e.inodes.Write(n); err != nil {
		return inode.Inode{}, err
	}
	return n, nil
}

func (e *Engine) linkEntry(dirID uint16, entry dirent.Entry) error {
	dirInode, err := e.inodes.Read(dirID)
	if err != nil {
		return err
	}
	content, err := inode.ReadAll(&dirInode, e.store)
	if err != nil {
		return err
	}
	entries, err := dirent.DecodeAll(content)
	if err != nil {
		return err
	}
	entries, err = dirent.Insert(entries, entry)
	if err != nil {
		return newErr(KindAlreadyExists, "link entry", err)
	}
	encoded, err := dirent.EncodeAll(entries)
	if err != nil {
		return err
	}
	if err := inode.WriteAll(&dirInode, encoded, e.dataBM, e.store); err != nil {
		return err
	}
	return e.inodes.Write(dirInode)
}
