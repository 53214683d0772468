package engine

import (
	"fmt"
	"time"

	"simplefsd/internal/dirent"
	"simplefsd/internal/inode"
	"simplefsd/internal/pathwalk"
	"simplefsd/internal/user"
)

// Stat is the metadata Info returns for one path.
type Stat struct {
	InodeID uint16
	Name    string
	IsDir   bool
	Size    uint32
	Mode    uint16
	UID     uint16
	GID     uint16
	Blocks  int
}

func (e *Engine) readDirEntries(id uint16) (inode.Inode, []dirent.Entry, error) {
	n, err := e.inodes.Read(id)
	if err != nil {
		return inode.Inode{}, nil, newErr(KindInternal, "read inode", err)
	}
	content, err := inode.ReadAll(&n, e.store)
	if err != nil {
		return inode.Inode{}, nil, newErr(KindInternal, "read directory", err)
	}
	entries, err := dirent.DecodeAll(content)
	if err != nil {
		return inode.Inode{}, nil, newErr(KindInternal, "decode directory", err)
	}
	return n, entries, nil
}

// Mkdir creates a new empty directory at path.
func (e *Engine) Mkdir(cwd uint16, path string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	parentPath, name := pathwalk.SplitParent(path)
	if name == "" {
		return newErr(KindInvalidArgument, "mkdir", fmt.Errorf("empty name"))
	}
	parentRes, err := pathwalk.ResolveDir(e.inodes, e.store, e.rootID, cwd, parentPath)
	if err != nil {
		return newErr(KindNotFound, "mkdir", err)
	}
	parentInode, err := e.inodes.Read(parentRes.InodeID)
	if err != nil {
		return newErr(KindInternal, "mkdir", err)
	}
	if !user.AllowedDirMutate(parentInode, uid, gid) {
		return newErr(KindPermissionDenied, "mkdir", nil)
	}

	newID, ok := e.inodeBM.AllocFirst()
	if !ok {
		return newErr(KindNoSpace, "mkdir", nil)
	}
	n := inode.Inode{
		ID:    uint16(newID),
		Kind:  inode.KindDir,
		Mode:  inode.DefaultDirMode,
		NLink: 2,
		UID:   uid,
		GID:   gid,
		MTime: nowUnix(),
	}
	selfEntries := []dirent.Entry{
		{Name: ".", IsDir: true, InodeID: n.ID},
		{Name: "..", IsDir: true, InodeID: parentRes.InodeID},
	}
	content, err := dirent.EncodeAll(selfEntries)
	if err != nil {
		return newErr(KindInternal, "mkdir", err)
	}
	if err := inode.WriteAll(&n, content, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "mkdir", err)
	}
	if err := e.inodes.Write(n); err != nil {
		return newErr(KindInternal, "mkdir", err)
	}

	nm, ext := dirent.SplitName(name)
	if err := e.linkEntry(parentRes.InodeID, dirent.Entry{Name: nm, Ext: ext, IsDir: true, InodeID: n.ID}); err != nil {
		return err
	}
	parentInode, err = e.inodes.Read(parentRes.InodeID)
	if err != nil {
		return newErr(KindInternal, "mkdir", err)
	}
	parentInode.NLink++
	if err := e.inodes.Write(parentInode); err != nil {
		return newErr(KindInternal, "mkdir", err)
	}
	return e.commit()
}

// Rmdir removes an empty directory.
func (e *Engine) Rmdir(cwd uint16, path string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	if err != nil {
		return newErr(KindNotFound, "rmdir", err)
	}
	if res.InodeID == e.rootID {
		return newErr(KindInvalidArgument, "rmdir", fmt.Errorf("cannot remove root"))
	}
	target, entries, err := e.readDirEntries(res.InodeID)
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return newErr(KindNotDirectory, "rmdir", nil)
	}
	for _, ent := range entries {
		if ent.Name != "." && ent.Name != ".." {
			return newErr(KindNotEmpty, "rmdir", nil)
		}
	}
	parentInode, err := e.inodes.Read(res.ParentInodeID)
	if err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	if !user.AllowedDirMutate(parentInode, uid, gid) {
		return newErr(KindPermissionDenied, "rmdir", nil)
	}

	if err := e.unlinkEntry(res.ParentInodeID, res.Name); err != nil {
		return err
	}
	parentInode, err = e.inodes.Read(res.ParentInodeID)
	if err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	if parentInode.NLink > 0 {
		parentInode.NLink--
	}
	if err := e.inodes.Write(parentInode); err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	if err := inode.Truncate(&target, 0, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	target.Kind = inode.KindFree
	if err := e.inodes.Write(target); err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	e.inodeBM.Free(int(target.ID))
	return e.commit()
}

// RemoveTree deletes a non-empty directory and every inode reachable
// beneath it. Callers are expected to have already confirmed the
// operation (the confirmation itself is a wire-level exchange, not an
// engine concern) after Rmdir signalled KindNotEmpty.
func (e *Engine) RemoveTree(cwd uint16, path string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	if err != nil {
		return newErr(KindNotFound, "rmdir", err)
	}
	if res.InodeID == e.rootID {
		return newErr(KindInvalidArgument, "rmdir", fmt.Errorf("cannot remove root"))
	}
	target, err := e.inodes.Read(res.InodeID)
	if err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	if !target.IsDir() {
		return newErr(KindNotDirectory, "rmdir", nil)
	}
	parentInode, err := e.inodes.Read(res.ParentInodeID)
	if err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	if !user.AllowedDirMutate(parentInode, uid, gid) {
		return newErr(KindPermissionDenied, "rmdir", nil)
	}

	if err := e.freeSubtree(res.InodeID); err != nil {
		return err
	}
	if err := e.unlinkEntry(res.ParentInodeID, res.Name); err != nil {
		return err
	}
	parentInode, err = e.inodes.Read(res.ParentInodeID)
	if err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	if parentInode.NLink > 0 {
		parentInode.NLink--
	}
	if err := e.inodes.Write(parentInode); err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	return e.commit()
}

// freeSubtree truncates and frees dirID and every inode reachable from
// it, "." and ".." skipped since they don't own separate inodes. It
// does not touch dirID's entry in its parent; the caller unlinks that.
func (e *Engine) freeSubtree(dirID uint16) error {
	n, entries, err := e.readDirEntries(dirID)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if ent.Name == "." || ent.Name == ".." {
			continue
		}
		child, err := e.inodes.Read(ent.InodeID)
		if err != nil {
			return newErr(KindInternal, "rmdir", err)
		}
		if child.IsDir() {
			if err := e.freeSubtree(ent.InodeID); err != nil {
				return err
			}
			continue
		}
		if child.NLink > 0 {
			child.NLink--
		}
		if child.NLink == 0 {
			if err := inode.Truncate(&child, 0, e.dataBM, e.store); err != nil {
				return newErr(KindInternal, "rmdir", err)
			}
			child.Kind = inode.KindFree
			e.inodeBM.Free(int(child.ID))
		}
		if err := e.inodes.Write(child); err != nil {
			return newErr(KindInternal, "rmdir", err)
		}
	}
	if err := inode.Truncate(&n, 0, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	n.Kind = inode.KindFree
	if err := e.inodes.Write(n); err != nil {
		return newErr(KindInternal, "rmdir", err)
	}
	e.inodeBM.Free(int(n.ID))
	return nil
}

func (e *Engine) unlinkEntry(dirID uint16, name string) error {
	n, entries, err := e.readDirEntries(dirID)
	if err != nil {
		return err
	}
	entries, err = dirent.Remove(entries, name)
	if err != nil {
		return newErr(KindNotFound, "unlink", err)
	}
	encoded, err := dirent.EncodeAll(entries)
	if err != nil {
		return newErr(KindInternal, "unlink", err)
	}
	if err := inode.WriteAll(&n, encoded, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "unlink", err)
	}
	return e.inodes.Write(n)
}

// Dir lists the entries of a directory, "." and ".." included, the
// same way the teacher's own ls command does.
func (e *Engine) Dir(cwd uint16, path string, uid, gid uint16) ([]dirent.Entry, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	target := cwd
	if path != "" {
		res, err := pathwalk.ResolveDir(e.inodes, e.store, e.rootID, cwd, path)
		if err != nil {
			return nil, newErr(KindNotFound, "ls", err)
		}
		target = res.InodeID
	}
	n, entries, err := e.readDirEntries(target)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, newErr(KindNotDirectory, "ls", nil)
	}
	if !user.Allowed(n, uid, gid, user.AccessRead) {
		return nil, newErr(KindPermissionDenied, "ls", nil)
	}
	return entries, nil
}

// CreateFile creates an empty regular file at path, failing if it
// already exists.
func (e *Engine) CreateFile(cwd uint16, path string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.createFile(cwd, path, uid, gid)
	if err != nil {
		return err
	}
	return e.commit()
}

func (e *Engine) createFile(cwd uint16, path string, uid, gid uint16) (inode.Inode, error) {
	parentPath, name := pathwalk.SplitParent(path)
	if name == "" {
		return inode.Inode{}, newErr(KindInvalidArgument, "create", fmt.Errorf("empty name"))
	}
	parentRes, err := pathwalk.ResolveDir(e.inodes, e.store, e.rootID, cwd, parentPath)
	if err != nil {
		return inode.Inode{}, newErr(KindNotFound, "create", err)
	}
	parentInode, err := e.inodes.Read(parentRes.InodeID)
	if err != nil {
		return inode.Inode{}, newErr(KindInternal, "create", err)
	}
	if !user.AllowedDirMutate(parentInode, uid, gid) {
		return inode.Inode{}, newErr(KindPermissionDenied, "create", nil)
	}

	newID, ok := e.inodeBM.AllocFirst()
	if !ok {
		return inode.Inode{}, newErr(KindNoSpace, "create", nil)
	}
	n := inode.Inode{
		ID:    uint16(newID),
		Kind:  inode.KindFile,
		Mode:  inode.DefaultFileMode,
		NLink: 1,
		UID:   uid,
		GID:   gid,
		MTime: nowUnix(),
	}
	if err := e.inodes.Write(n); err != nil {
		return inode.Inode{}, newErr(KindInternal, "create", err)
	}
	nm, ext := dirent.SplitName(name)
	if err := e.linkEntry(parentRes.InodeID, dirent.Entry{Name: nm, Ext: ext, InodeID: n.ID}); err != nil {
		e.inodeBM.Free(int(n.ID))
		return inode.Inode{}, err
	}
	return n, nil
}

// WriteFile overwrites a file's content wholesale, creating it first
// if it does not exist yet, the way incp does for a fresh destination.
func (e *Engine) WriteFile(cwd uint16, path string, content []byte, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	var target inode.Inode
	if err != nil {
		target, err = e.createFile(cwd, path, uid, gid)
		if err != nil {
			return err
		}
	} else {
		target, err = e.inodes.Read(res.InodeID)
		if err != nil {
			return newErr(KindInternal, "write", err)
		}
		if target.IsDir() {
			return newErr(KindIsDirectory, "write", nil)
		}
		if !user.Allowed(target, uid, gid, user.AccessWrite) {
			return newErr(KindPermissionDenied, "write", nil)
		}
	}
	if err := inode.WriteAll(&target, content, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "write", err)
	}
	target.MTime = nowUnix()
	if err := e.inodes.Write(target); err != nil {
		return newErr(KindInternal, "write", err)
	}
	return e.commit()
}

// ReadFile returns the full content of a regular file.
func (e *Engine) ReadFile(cwd uint16, path string, uid, gid uint16) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	if err != nil {
		return nil, newErr(KindNotFound, "read", err)
	}
	n, err := e.inodes.Read(res.InodeID)
	if err != nil {
		return nil, newErr(KindInternal, "read", err)
	}
	if n.IsDir() {
		return nil, newErr(KindIsDirectory, "read", nil)
	}
	if !user.Allowed(n, uid, gid, user.AccessRead) {
		return nil, newErr(KindPermissionDenied, "read", nil)
	}
	content, err := inode.ReadAll(&n, e.store)
	if err != nil {
		return nil, newErr(KindInternal, "read", err)
	}
	return content, nil
}

// Remove deletes a regular file.
func (e *Engine) Remove(cwd uint16, path string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	if err != nil {
		return newErr(KindNotFound, "rm", err)
	}
	target, err := e.inodes.Read(res.InodeID)
	if err != nil {
		return newErr(KindInternal, "rm", err)
	}
	if target.IsDir() {
		return newErr(KindIsDirectory, "rm", nil)
	}
	parentInode, err := e.inodes.Read(res.ParentInodeID)
	if err != nil {
		return newErr(KindInternal, "rm", err)
	}
	if !user.AllowedDirMutate(parentInode, uid, gid) {
		return newErr(KindPermissionDenied, "rm", nil)
	}
	if err := e.unlinkEntry(res.ParentInodeID, res.Name); err != nil {
		return err
	}
	if target.NLink > 0 {
		target.NLink--
	}
	if target.NLink == 0 {
		if err := inode.Truncate(&target, 0, e.dataBM, e.store); err != nil {
			return newErr(KindInternal, "rm", err)
		}
		target.Kind = inode.KindFree
		e.inodeBM.Free(int(target.ID))
	}
	if err := e.inodes.Write(target); err != nil {
		return newErr(KindInternal, "rm", err)
	}
	return e.commit()
}

// Copy duplicates a file's content under a new path within the image.
func (e *Engine) Copy(cwd uint16, srcPath, dstPath string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	srcRes, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, srcPath)
	if err != nil {
		return newErr(KindNotFound, "cp", err)
	}
	src, err := e.inodes.Read(srcRes.InodeID)
	if err != nil {
		return newErr(KindInternal, "cp", err)
	}
	if src.IsDir() {
		return newErr(KindIsDirectory, "cp", nil)
	}
	if !user.Allowed(src, uid, gid, user.AccessRead) {
		return newErr(KindPermissionDenied, "cp", nil)
	}
	content, err := inode.ReadAll(&src, e.store)
	if err != nil {
		return newErr(KindInternal, "cp", err)
	}

	dst, err := e.createFile(cwd, dstPath, uid, gid)
	if err != nil {
		return err
	}
	if err := inode.WriteAll(&dst, content, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "cp", err)
	}
	dst.MTime = nowUnix()
	if err := e.inodes.Write(dst); err != nil {
		return newErr(KindInternal, "cp", err)
	}
	return e.commit()
}

// Move renames or relocates a file or directory, unlinking it from
// its old parent and linking it into the new one without touching its
// data blocks.
func (e *Engine) Move(cwd uint16, srcPath, dstPath string, uid, gid uint16) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	srcRes, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, srcPath)
	if err != nil {
		return newErr(KindNotFound, "mv", err)
	}
	if srcRes.InodeID == e.rootID {
		return newErr(KindInvalidArgument, "mv", fmt.Errorf("cannot move root"))
	}
	srcParent, err := e.inodes.Read(srcRes.ParentInodeID)
	if err != nil {
		return newErr(KindInternal, "mv", err)
	}
	if !user.AllowedDirMutate(srcParent, uid, gid) {
		return newErr(KindPermissionDenied, "mv", nil)
	}

	dstParentPath, dstName := pathwalk.SplitParent(dstPath)
	if dstName == "" {
		return newErr(KindInvalidArgument, "mv", fmt.Errorf("empty destination name"))
	}
	dstParentRes, err := pathwalk.ResolveDir(e.inodes, e.store, e.rootID, cwd, dstParentPath)
	if err != nil {
		return newErr(KindNotFound, "mv", err)
	}
	dstParent, err := e.inodes.Read(dstParentRes.InodeID)
	if err != nil {
		return newErr(KindInternal, "mv", err)
	}
	if !user.AllowedDirMutate(dstParent, uid, gid) {
		return newErr(KindPermissionDenied, "mv", nil)
	}

	movedInode, err := e.inodes.Read(srcRes.InodeID)
	if err != nil {
		return newErr(KindInternal, "mv", err)
	}
	nm, ext := dirent.SplitName(dstName)
	if err := e.linkEntry(dstParentRes.InodeID, dirent.Entry{Name: nm, Ext: ext, IsDir: movedInode.IsDir(), InodeID: movedInode.ID}); err != nil {
		return err
	}
	if err := e.unlinkEntry(srcRes.ParentInodeID, srcRes.Name); err != nil {
		return err
	}
	if movedInode.IsDir() {
		if err := e.rewriteDotDot(movedInode.ID, dstParentRes.InodeID); err != nil {
			return err
		}
		if srcParent.ID != dstParent.ID {
			if srcParent, err = e.inodes.Read(srcParent.ID); err != nil {
				return newErr(KindInternal, "mv", err)
			}
			if dstParent, err = e.inodes.Read(dstParent.ID); err != nil {
				return newErr(KindInternal, "mv", err)
			}
			if srcParent.NLink > 0 {
				srcParent.NLink--
			}
			if err := e.inodes.Write(srcParent); err != nil {
				return newErr(KindInternal, "mv", err)
			}
			dstParent.NLink++
			if err := e.inodes.Write(dstParent); err != nil {
				return newErr(KindInternal, "mv", err)
			}
		}
	}
	return e.commit()
}

func (e *Engine) rewriteDotDot(dirID, newParentID uint16) error {
	n, entries, err := e.readDirEntries(dirID)
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].Name == ".." {
			entries[i].InodeID = newParentID
		}
	}
	encoded, err := dirent.EncodeAll(entries)
	if err != nil {
		return newErr(KindInternal, "rewrite parent link", err)
	}
	if err := inode.WriteAll(&n, encoded, e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "rewrite parent link", err)
	}
	return e.inodes.Write(n)
}

// ChangeDir resolves path to a directory inode id, the way cd
// validates its target before a session adopts it as the new cwd.
func (e *Engine) ChangeDir(cwd uint16, path string, uid, gid uint16) (uint16, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	if err != nil {
		return 0, newErr(KindNotFound, "cd", err)
	}
	n, err := e.inodes.Read(res.InodeID)
	if err != nil {
		return 0, newErr(KindInternal, "cd", err)
	}
	if !n.IsDir() {
		return 0, newErr(KindNotDirectory, "cd", nil)
	}
	if !user.Allowed(n, uid, gid, user.AccessExec) {
		return 0, newErr(KindPermissionDenied, "cd", nil)
	}
	return res.InodeID, nil
}

// Info returns metadata for a path without reading its content.
func (e *Engine) Info(cwd uint16, path string, uid, gid uint16) (Stat, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, cwd, path)
	if err != nil {
		return Stat{}, newErr(KindNotFound, "info", err)
	}
	n, err := e.inodes.Read(res.InodeID)
	if err != nil {
		return Stat{}, newErr(KindInternal, "info", err)
	}
	return Stat{
		InodeID: n.ID,
		Name:    res.Name,
		IsDir:   n.IsDir(),
		Size:    n.Size,
		Mode:    n.Mode,
		UID:     n.UID,
		GID:     n.GID,
		Blocks:  blockCount(n.Size),
	}, nil
}

// Pwd reconstructs the absolute path of a directory by walking ".."
// links up to the root, collecting names along the way.
func (e *Engine) Pwd(cwd uint16) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if cwd == e.rootID {
		return "/", nil
	}
	var names []string
	current := cwd
	for i := 0; i < inodeChainLimit; i++ {
		_, entries, err := e.readDirEntries(current)
		if err != nil {
			return "", err
		}
		parentID, ok := dirent.Lookup(entries, "..")
		if !ok {
			return "", newErr(KindInternal, "pwd", fmt.Errorf("directory %d missing ..", current))
		}
		_, parentEntries, err := e.readDirEntries(parentID.InodeID)
		if err != nil {
			return "", err
		}
		name, err := nameOfChild(parentEntries, current)
		if err != nil {
			return "", err
		}
		names = append([]string{name}, names...)
		if parentID.InodeID == e.rootID {
			break
		}
		current = parentID.InodeID
	}
	return "/" + joinSlash(names), nil
}

const inodeChainLimit = 4096

func nameOfChild(entries []dirent.Entry, childID uint16) (string, error) {
	for _, e := range entries {
		if e.InodeID == childID && e.Name != "." && e.Name != ".." {
			return e.FullName(), nil
		}
	}
	return "", newErr(KindInternal, "pwd", fmt.Errorf("child inode %d not linked in parent", childID))
}

func joinSlash(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

func blockCount(size uint32) int {
	if size == 0 {
		return 0
	}
	return int((size + 1023) / 1024)
}

func nowUnix() uint64 {
	return uint64(time.Now().Unix())
}
