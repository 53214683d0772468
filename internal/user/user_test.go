package user

import (
	"testing"

	"simplefsd/internal/inode"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	s, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec, err := s.Register("alice", "hunter2")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.UID != 1 {
		t.Fatalf("uid = %d, want 1", rec.UID)
	}

	if _, err := s.Register("alice", "other"); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}

	if _, err := s.Authenticate("alice", "hunter2"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if _, err := s.Authenticate("alice", "wrong"); err == nil {
		t.Fatalf("expected wrong password to fail")
	}
	if _, err := s.Authenticate("bob", "x"); err == nil {
		t.Fatalf("expected unknown user to fail")
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	s, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := s.Register("alice", "hunter2"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Register("bob", "swordfish"); err != nil {
		t.Fatalf("register: %v", err)
	}

	encoded := s.Encode()
	reloaded, err := Parse(encoded)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if _, err := reloaded.Authenticate("bob", "swordfish"); err != nil {
		t.Fatalf("authenticate after reload: %v", err)
	}
}

func TestNextUIDStartsAtOne(t *testing.T) {
	s, _ := Parse(nil)
	if got := s.NextUID(); got != 1 {
		t.Fatalf("NextUID() = %d, want 1", got)
	}
}

func TestAllowedRootBypassesMode(t *testing.T) {
	n := inode.Inode{UID: 5, GID: 5, Mode: 0}
	if !Allowed(n, RootUID, RootUID, AccessWrite) {
		t.Fatalf("root should bypass mode checks")
	}
}

func TestAllowedOwnerGroupOther(t *testing.T) {
	n := inode.Inode{UID: 1, GID: 2, Mode: 0o640}
	if !Allowed(n, 1, 2, AccessRead) {
		t.Fatalf("owner should have read")
	}
	if Allowed(n, 1, 2, AccessExec) {
		t.Fatalf("owner should not have exec")
	}
	if !Allowed(n, 9, 2, AccessRead) {
		t.Fatalf("group member should have read")
	}
	if Allowed(n, 9, 2, AccessWrite) {
		t.Fatalf("group member should not have write")
	}
	if Allowed(n, 9, 9, AccessRead) {
		t.Fatalf("other should not have read for mode 0640")
	}
}
