package engine

import (
	"simplefsd/internal/dirent"
	"simplefsd/internal/inode"
	"simplefsd/internal/pathwalk"
	"simplefsd/internal/user"
)

func (e *Engine) createUsersFile() error {
	etcID, ok := e.inodeBM.AllocFirst()
	if !ok {
		return newErr(KindNoSpace, "create /etc", nil)
	}
	etc := inode.Inode{
		ID:    uint16(etcID),
		Kind:  inode.KindDir,
		Mode:  inode.DefaultDirMode,
		NLink: 2,
		UID:   user.RootUID,
		GID:   user.RootUID,
	}
	entries := []dirent.Entry{
		{Name: ".", IsDir: true, InodeID: etc.ID},
		{Name: "..", IsDir: true, InodeID: e.rootID},
	}
	content, err := dirent.EncodeAll(entries)
	if err != nil {
		return err
	}
	if err := inode.WriteAll(&etc, content, e.dataBM, e.store); err != nil {
		return err
	}
	if err := e.inodes.Write(etc); err != nil {
		return err
	}
	if err := e.linkEntry(e.rootID, dirent.Entry{Name: "etc", IsDir: true, InodeID: etc.ID}); err != nil {
		return err
	}

	passwd, err := e.createFileInode(user.RootUID, user.RootUID)
	if err != nil {
		return err
	}
	store, err := user.Parse(nil)
	if err != nil {
		return err
	}
	store.SeedRoot()
	if err := inode.WriteAll(&passwd, store.Encode(), e.dataBM, e.store); err != nil {
		return err
	}
	if err := e.inodes.Write(passwd); err != nil {
		return err
	}
	return e.linkEntry(etc.ID, dirent.Entry{Name: "passwd", InodeID: passwd.ID})
}

func (e *Engine) loadUserStore() (*user.Store, inode.Inode, error) {
	res, err := pathwalk.Resolve(e.inodes, e.store, e.rootID, e.rootID, UsersPath)
	if err != nil {
		return nil, inode.Inode{}, newErr(KindInternal, "load accounts", err)
	}
	n, err := e.inodes.Read(res.InodeID)
	if err != nil {
		return nil, inode.Inode{}, newErr(KindInternal, "load accounts", err)
	}
	content, err := inode.ReadAll(&n, e.store)
	if err != nil {
		return nil, inode.Inode{}, newErr(KindInternal, "load accounts", err)
	}
	store, err := user.Parse(content)
	if err != nil {
		return nil, inode.Inode{}, newErr(KindInternal, "load accounts", err)
	}
	return store, n, nil
}

func (e *Engine) saveUserStore(store *user.Store, n inode.Inode) error {
	if err := inode.WriteAll(&n, store.Encode(), e.dataBM, e.store); err != nil {
		return newErr(KindInternal, "save accounts", err)
	}
	return e.inodes.Write(n)
}

// Identity is what a successful login or registration hands back to
// the caller, to be stashed on the session.
type Identity struct {
	Username string
	UID      uint16
	GID      uint16
}

// Register creates a new account and returns its identity.
func (e *Engine) Register(username, password string) (Identity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	store, n, err := e.loadUserStore()
	if err != nil {
		return Identity{}, err
	}
	rec, err := store.Register(username, password)
	if err != nil {
		return Identity{}, newErr(KindAlreadyExists, "register", err)
	}
	if err := e.saveUserStore(store, n); err != nil {
		return Identity{}, err
	}
	if err := e.commit(); err != nil {
		return Identity{}, err
	}
	return Identity{Username: rec.Name, UID: rec.UID, GID: rec.GID}, nil
}

// AccountSummary is the subset of a user record safe to hand back to
// a client: no password hash.
type AccountSummary struct {
	Username string
	UID      uint16
	GID      uint16
}

// ListUsers returns every registered account, root only, the way the
// shell's "users" command inspects /etc/passwd without exposing hashes.
func (e *Engine) ListUsers(callerUID uint16) ([]AccountSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if callerUID != user.RootUID {
		return nil, newErr(KindPermissionDenied, "users", nil)
	}
	store, _, err := e.loadUserStore()
	if err != nil {
		return nil, err
	}
	var out []AccountSummary
	for _, rec := range store.Records() {
		out = append(out, AccountSummary{Username: rec.Name, UID: rec.UID, GID: rec.GID})
	}
	return out, nil
}

// Login verifies credentials and returns the account identity.
func (e *Engine) Login(username, password string) (Identity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	store, _, err := e.loadUserStore()
	if err != nil {
		return Identity{}, err
	}
	rec, err := store.Authenticate(username, password)
	if err != nil {
		return Identity{}, newErr(KindPermissionDenied, "login", err)
	}
	return Identity{Username: rec.Name, UID: rec.UID, GID: rec.GID}, nil
}
