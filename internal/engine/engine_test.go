package engine

import (
	"bytes"
	"path/filepath"
	"testing"

	"simplefsd/internal/inode"
	"simplefsd/internal/user"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.simplefs")
	e, err := Format(path, nil)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestFormatCreatesRootAndPasswd(t *testing.T) {
	e := newTestEngine(t)
	entries, err := e.Dir(e.RootID(), "", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	names := map[string]bool{}
	for _, ent := range entries {
		names[ent.FullName()] = true
	}
	if !names["etc"] {
		t.Fatalf("expected /etc in root, got %+v", entries)
	}

	content, err := e.ReadFile(e.RootID(), UsersPath, user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("read passwd: %v", err)
	}
	if !bytes.Contains(content, []byte("root:0:0:")) {
		t.Fatalf("fresh passwd file should seed a root account, got %q", content)
	}
}

func TestLoginAsSeededRoot(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Login(user.DefaultRootName, user.DefaultRootHashPlaintext)
	if err != nil {
		t.Fatalf("login as root: %v", err)
	}
	if id.UID != user.RootUID {
		t.Fatalf("uid = %d, want %d", id.UID, user.RootUID)
	}
}

func TestMkdirAndLs(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Mkdir(e.RootID(), "/docs", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	entries, err := e.Dir(e.RootID(), "/docs", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("ls: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("fresh directory should have . and .. only, got %+v", entries)
	}

	if err := e.Mkdir(e.RootID(), "/docs", user.RootUID, user.RootUID); err == nil {
		t.Fatalf("expected duplicate mkdir to fail")
	}
}

func TestCreateWriteReadFile(t *testing.T) {
	e := newTestEngine(t)
	if err := e.WriteFile(e.RootID(), "/note.txt", []byte("hello"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := e.ReadFile(e.RootID(), "/note.txt", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q", got)
	}

	if err := e.WriteFile(e.RootID(), "/note.txt", []byte("updated"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = e.ReadFile(e.RootID(), "/note.txt", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("read after overwrite: %v", err)
	}
	if !bytes.Equal(got, []byte("updated")) {
		t.Fatalf("got %q", got)
	}
}

func TestRemoveFile(t *testing.T) {
	e := newTestEngine(t)
	if err := e.WriteFile(e.RootID(), "/note.txt", []byte("x"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.Remove(e.RootID(), "/note.txt", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := e.ReadFile(e.RootID(), "/note.txt", user.RootUID, user.RootUID); err == nil {
		t.Fatalf("expected read of removed file to fail")
	}
}

// TestCreateFileWithContentAllocatesInodeAndBlock exercises "newfile
// /f" with content "hello": cat must return the content and, unlike
// creating an empty file, one inode and one data block must now be
// allocated relative to the baseline.
func TestCreateFileWithContentAllocatesInodeAndBlock(t *testing.T) {
	e := newTestEngine(t)
	baselineInodes := e.inodeBM.Count()
	baselineBlocks := e.dataBM.Count()

	if err := e.CreateFile(e.RootID(), "/f", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.WriteFile(e.RootID(), "/f", []byte("hello"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := e.ReadFile(e.RootID(), "/f", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("cat = %q, want %q", got, "hello")
	}
	if got := e.inodeBM.Count(); got != baselineInodes+1 {
		t.Fatalf("inode count = %d, want %d", got, baselineInodes+1)
	}
	if got := e.dataBM.Count(); got != baselineBlocks+1 {
		t.Fatalf("data block count = %d, want %d", got, baselineBlocks+1)
	}
}

// TestDirMutationRequiresWriteAndExec verifies that write access to a
// directory alone is not enough to create or remove entries in it —
// the caller also needs execute access to search into the directory.
func TestDirMutationRequiresWriteAndExec(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Mkdir(e.RootID(), "/shared", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	id, err := e.Register("bob", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	st, err := e.Info(e.RootID(), "/shared", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	n, err := e.inodes.Read(st.InodeID)
	if err != nil {
		t.Fatalf("read inode: %v", err)
	}
	n.Mode = inode.ModeOwnerRead | inode.ModeOwnerWrite | inode.ModeOwnerExec | inode.ModeOtherWrite
	if err := e.inodes.Write(n); err != nil {
		t.Fatalf("write inode: %v", err)
	}

	if err := e.Mkdir(e.RootID(), "/shared/sub", id.UID, id.GID); KindOf(err) != KindPermissionDenied {
		t.Fatalf("expected write-only (no exec) to deny mkdir, got %v", err)
	}

	n.Mode |= inode.ModeOtherExec
	if err := e.inodes.Write(n); err != nil {
		t.Fatalf("write inode: %v", err)
	}
	if err := e.Mkdir(e.RootID(), "/shared/sub", id.UID, id.GID); err != nil {
		t.Fatalf("expected write+exec to allow mkdir, got %v", err)
	}
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Mkdir(e.RootID(), "/docs", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := e.WriteFile(e.RootID(), "/docs/a.txt", []byte("x"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.Rmdir(e.RootID(), "/docs", user.RootUID, user.RootUID); KindOf(err) != KindNotEmpty {
		t.Fatalf("expected KindNotEmpty, got %v", err)
	}
	if err := e.Remove(e.RootID(), "/docs/a.txt", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := e.Rmdir(e.RootID(), "/docs", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("rmdir: %v", err)
	}
}

// TestRemoveTreeReturnsCountsToBaseline exercises the recursive-delete
// path a confirmed "rd" on a non-empty directory takes: md /d; newfile
// /d/x; rd /d must leave /d not-found and both bitmaps back at their
// pre-creation counts, not merely unlink the top directory.
func TestRemoveTreeReturnsCountsToBaseline(t *testing.T) {
	e := newTestEngine(t)
	baselineInodes := e.inodeBM.Count()
	baselineBlocks := e.dataBM.Count()

	if err := e.Mkdir(e.RootID(), "/d", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := e.WriteFile(e.RootID(), "/d/x", []byte("some content"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.Mkdir(e.RootID(), "/d/sub", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}
	if err := e.WriteFile(e.RootID(), "/d/sub/y", []byte("more"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write nested: %v", err)
	}

	if err := e.Rmdir(e.RootID(), "/d", user.RootUID, user.RootUID); KindOf(err) != KindNotEmpty {
		t.Fatalf("expected plain rmdir on a populated directory to signal KindNotEmpty, got %v", err)
	}

	if err := e.RemoveTree(e.RootID(), "/d", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("remove tree: %v", err)
	}
	if _, err := e.Dir(e.RootID(), "/d", user.RootUID, user.RootUID); KindOf(err) != KindNotFound {
		t.Fatalf("expected /d to be not-found after recursive removal, got %v", err)
	}
	if got := e.inodeBM.Count(); got != baselineInodes {
		t.Fatalf("inode count = %d, want baseline %d", got, baselineInodes)
	}
	if got := e.dataBM.Count(); got != baselineBlocks {
		t.Fatalf("data block count = %d, want baseline %d", got, baselineBlocks)
	}
}

func TestCopyAndMove(t *testing.T) {
	e := newTestEngine(t)
	if err := e.WriteFile(e.RootID(), "/a.txt", []byte("data"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := e.Copy(e.RootID(), "/a.txt", "/b.txt", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("cp: %v", err)
	}
	got, err := e.ReadFile(e.RootID(), "/b.txt", user.RootUID, user.RootUID)
	if err != nil || !bytes.Equal(got, []byte("data")) {
		t.Fatalf("got %q, err %v", got, err)
	}

	if err := e.Mkdir(e.RootID(), "/archive", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := e.Move(e.RootID(), "/b.txt", "/archive/b.txt", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mv: %v", err)
	}
	if _, err := e.ReadFile(e.RootID(), "/b.txt", user.RootUID, user.RootUID); err == nil {
		t.Fatalf("expected old path to be gone after move")
	}
	got, err = e.ReadFile(e.RootID(), "/archive/b.txt", user.RootUID, user.RootUID)
	if err != nil || !bytes.Equal(got, []byte("data")) {
		t.Fatalf("moved file mismatch: %q, err %v", got, err)
	}
}

func TestMoveDirectoryRewritesDotDot(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Mkdir(e.RootID(), "/a", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir a: %v", err)
	}
	if err := e.Mkdir(e.RootID(), "/b", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir b: %v", err)
	}
	if err := e.Mkdir(e.RootID(), "/a/child", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir child: %v", err)
	}
	if err := e.Move(e.RootID(), "/a/child", "/b/child", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mv: %v", err)
	}
	info, err := e.Info(e.RootID(), "/b/child", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	pwd, err := e.Pwd(info.InodeID)
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if pwd != "/b/child" {
		t.Fatalf("pwd = %q, want /b/child", pwd)
	}
}

func TestChangeDir(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Mkdir(e.RootID(), "/docs", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	id, err := e.ChangeDir(e.RootID(), "/docs", user.RootUID, user.RootUID)
	if err != nil {
		t.Fatalf("cd: %v", err)
	}
	pwd, err := e.Pwd(id)
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if pwd != "/docs" {
		t.Fatalf("pwd = %q, want /docs", pwd)
	}

	if err := e.WriteFile(e.RootID(), "/note.txt", []byte("x"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := e.ChangeDir(e.RootID(), "/note.txt", user.RootUID, user.RootUID); KindOf(err) != KindNotDirectory {
		t.Fatalf("expected KindNotDirectory cd-ing into a file, got %v", err)
	}
}

func TestPwdRoot(t *testing.T) {
	e := newTestEngine(t)
	pwd, err := e.Pwd(e.RootID())
	if err != nil {
		t.Fatalf("pwd: %v", err)
	}
	if pwd != "/" {
		t.Fatalf("pwd = %q, want /", pwd)
	}
}

func TestRegisterAndLoginThroughEngine(t *testing.T) {
	e := newTestEngine(t)
	id, err := e.Register("alice", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id.UID == user.RootUID {
		t.Fatalf("registered user should not get root uid")
	}
	if _, err := e.Login("alice", "hunter2"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := e.Login("alice", "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail login")
	}
}

func TestCheckReportsCleanImage(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Mkdir(e.RootID(), "/docs", user.RootUID, user.RootUID); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := e.WriteFile(e.RootID(), "/docs/a.txt", []byte("hello"), user.RootUID, user.RootUID); err != nil {
		t.Fatalf("write: %v", err)
	}
	report, err := e.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(report.CorruptInodeBits) != 0 || len(report.CorruptDataBits) != 0 {
		t.Fatalf("clean image should not report corruption: %+v", report)
	}

	got, err := e.ReadFile(e.RootID(), "/docs/a.txt", user.RootUID, user.RootUID)
	if err != nil || !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("data should survive check: %q, err %v", got, err)
	}
}

func TestCheckClearsLeakedInodeBit(t *testing.T) {
	e := newTestEngine(t)
	id, ok := e.inodeBM.AllocFirst()
	if !ok {
		t.Fatalf("alloc leaked inode bit")
	}
	if err := e.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	report, err := e.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.LeakedInodesCleared != 1 {
		t.Fatalf("expected 1 leaked inode cleared, got %d", report.LeakedInodesCleared)
	}
	if e.inodeBM.IsSet(id) {
		t.Fatalf("leaked inode bit should have been cleared")
	}

	second, err := e.Check()
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if second.LeakedInodesCleared != 0 || second.LeakedDataBlocksCleared != 0 {
		t.Fatalf("check should be a fixed point on a clean image: %+v", second)
	}
}

func TestCheckClearsLeakedDataBlock(t *testing.T) {
	e := newTestEngine(t)
	id, ok := e.dataBM.AllocFirst()
	if !ok {
		t.Fatalf("alloc leaked block")
	}
	if err := e.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	before := e.dataBM.Count()

	report, err := e.Check()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.LeakedDataBlocksCleared != 1 {
		t.Fatalf("expected 1 leaked block cleared, got %d", report.LeakedDataBlocksCleared)
	}
	if e.dataBM.IsSet(id) {
		t.Fatalf("leaked bit should have been cleared")
	}
	if e.dataBM.Count() >= before {
		t.Fatalf("bitmap count should shrink after clearing leaked block")
	}
}
