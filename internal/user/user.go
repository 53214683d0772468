// Package user implements the account store: an /etc/passwd-style
// record file inside the image, bcrypt password hashing, and the
// permission checks that compare a session's identity against an
// inode's owner/mode bits.
package user

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"simplefsd/internal/inode"
)

// RootUID is the always-privileged account, exempt from mode checks.
const RootUID = 0

// DefaultRootName and DefaultRootHash seed the account file at format
// time. The hash is baked in rather than produced by
// bcrypt.GenerateFromPassword so that formatting the same image twice
// writes identical bytes instead of a fresh salt each time; it is a
// bcrypt hash of the password "secret" at cost 10, verified against
// that plaintext rather than copied from an unrelated example.
const (
	DefaultRootName          = "root"
	DefaultRootHash          = "$2a$10$t7kozCeblvN8o903TC9eMOk6dAn4cug6srpg.NYGvbp51k1vLXTwy"
	DefaultRootHashPlaintext = "secret"
)

// Record is one line of the account file: name:uid:gid:bcryptHash.
type Record struct {
	Name string
	UID  uint16
	GID  uint16
	Hash string
}

// Store holds the parsed account file in memory. Callers are
// responsible for re-encoding and writing it back through the engine
// after SeedRoot/Register, the same way directory content is rewritten
// wholesale.
type Store struct {
	records []Record
}

// Parse decodes the account file content into a Store.
func Parse(content []byte) (*Store, error) {
	s := &Store{}
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, err
		}
		s.records = append(s.records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("user: parse account file: %w", err)
	}
	return s, nil
}

func parseLine(line string) (Record, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 4 {
		return Record{}, fmt.Errorf("user: malformed account line %q", line)
	}
	uid, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return Record{}, fmt.Errorf("user: bad uid in %q: %w", line, err)
	}
	gid, err := strconv.ParseUint(parts[2], 10, 16)
	if err != nil {
		return Record{}, fmt.Errorf("user: bad gid in %q: %w", line, err)
	}
	return Record{Name: parts[0], UID: uint16(uid), GID: uint16(gid), Hash: parts[3]}, nil
}

// Encode serialises the store back to account-file bytes.
func (s *Store) Encode() []byte {
	var buf bytes.Buffer
	for _, r := range s.records {
		fmt.Fprintf(&buf, "%s:%d:%d:%s\n", r.Name, r.UID, r.GID, r.Hash)
	}
	return buf.Bytes()
}

// Records returns every account in the store, in file order.
func (s *Store) Records() []Record {
	return s.records
}

// Lookup finds an account by name.
func (s *Store) Lookup(name string) (Record, bool) {
	for _, r := range s.records {
		if r.Name == name {
			return r, true
		}
	}
	return Record{}, false
}

// LookupUID finds an account by uid.
func (s *Store) LookupUID(uid uint16) (Record, bool) {
	for _, r := range s.records {
		if r.UID == uid {
			return r, true
		}
	}
	return Record{}, false
}

// NextUID returns the lowest uid not currently in use, starting from 1
// since 0 is reserved for root.
func (s *Store) NextUID() uint16 {
	used := make(map[uint16]bool, len(s.records))
	for _, r := range s.records {
		used[r.UID] = true
	}
	for id := uint16(1); ; id++ {
		if !used[id] {
			return id
		}
	}
}

// SeedRoot appends the default root account to a freshly formatted,
// otherwise-empty store.
func (s *Store) SeedRoot() {
	s.records = append(s.records, Record{Name: DefaultRootName, UID: RootUID, GID: RootUID, Hash: DefaultRootHash})
}

// Register hashes password and appends a new account, rejecting a
// duplicate username.
func (s *Store) Register(name, password string) (Record, error) {
	if _, exists := s.Lookup(name); exists {
		return Record{}, fmt.Errorf("user: %q already registered", name)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Record{}, err
	}
	rec := Record{Name: name, UID: s.NextUID(), GID: s.NextUID(), Hash: hash}
	s.records = append(s.records, rec)
	return rec, nil
}

// Authenticate verifies a plaintext password against the stored hash.
func (s *Store) Authenticate(name, password string) (Record, error) {
	rec, ok := s.Lookup(name)
	if !ok {
		return Record{}, fmt.Errorf("user: unknown account %q", name)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(password)); err != nil {
		return Record{}, fmt.Errorf("user: authentication failed for %q", name)
	}
	return rec, nil
}

// HashPassword bcrypt-hashes a plaintext password at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("user: hash password: %w", err)
	}
	return string(hash), nil
}

// Access enumerates the permission a session needs to perform an
// operation on an inode.
type Access uint8

const (
	AccessRead Access = 1 << iota
	AccessWrite
	AccessExec
)

// AllowedDirMutate reports whether uid/gid may add or remove an entry
// in dir. Doing so takes both write access, to rewrite the directory's
// own content, and execute access, to search into it in the first
// place — write alone is not enough.
func AllowedDirMutate(dir inode.Inode, uid, gid uint16) bool {
	return Allowed(dir, uid, gid, AccessWrite) && Allowed(dir, uid, gid, AccessExec)
}

// Allowed reports whether uid/gid may perform access on n, applying
// root bypass and the owner/group/other mode bit layout.
func Allowed(n inode.Inode, uid, gid uint16, access Access) bool {
	if uid == RootUID {
		return true
	}
	var bits uint16
	switch {
	case uid == n.UID:
		bits = (n.Mode >> 6) & 0o7
	case gid == n.GID:
		bits = (n.Mode >> 3) & 0o7
	default:
		bits = n.Mode & 0o7
	}
	switch access {
	case AccessRead:
		return bits&0o4 != 0
	case AccessWrite:
		return bits&0o2 != 0
	case AccessExec:
		return bits&0o1 != 0
	default:
		return false
	}
}
