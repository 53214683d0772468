package dispatch

import (
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"simplefsd/internal/engine"
	"simplefsd/internal/session"
	"simplefsd/internal/wire"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.simplefs")
	e, err := engine.Format(path, nil)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return &Dispatcher{Engine: e, Sessions: session.NewRegistry(e.RootID())}
}

// harness runs the dispatcher against one end of an in-process pipe
// and hands the test the client's wire.Conn on the other end.
func harness(t *testing.T, d *Dispatcher) (*wire.Conn, func()) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Serve(serverSide)
	}()
	conn := wire.NewConn(clientSide, clientSide)
	cleanup := func() {
		clientSide.Close()
		wg.Wait()
	}
	return conn, cleanup
}

func TestLoginRequiredBeforeCommands(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	if err := conn.WriteLine("pwd"); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != wire.LoginOrRegisterFirst {
		t.Fatalf("got %q, want %q", resp, wire.LoginOrRegisterFirst)
	}
}

func TestRegisterLoginAndPwd(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "register alice hunter2")
	mustReadOK(t, conn)

	mustWrite(t, conn, "pwd")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != "/" {
		t.Fatalf("pwd = %q, want /", resp)
	}
}

func TestMkdirCdAndLs(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "login root secret")
	mustReadOK(t, conn)

	mustWrite(t, conn, "mkdir /docs")
	mustReadOK(t, conn)

	mustWrite(t, conn, "cd /docs")
	mustReadOK(t, conn)

	mustWrite(t, conn, "pwd")
	resp, _ := conn.ReadLine()
	if resp != "/docs" {
		t.Fatalf("pwd = %q, want /docs", resp)
	}

	mustWrite(t, conn, "ls")
	mustReadOK(t, conn)
	blob := mustReadBlob(t, conn)
	if !strings.Contains(blob, ".") || !strings.Contains(blob, "..") {
		t.Fatalf("ls output missing dot entries: %q", blob)
	}
}

func TestIncpOutcpRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "register alice hunter2")
	mustReadOK(t, conn)

	mustWrite(t, conn, "incp /note.txt")
	prompt, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read prompt: %v", err)
	}
	if prompt != wire.InputFileContent {
		t.Fatalf("got %q, want %q", prompt, wire.InputFileContent)
	}
	payload := []byte("hello from the host")
	if err := conn.WriteBlob(payload); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	mustReadOK(t, conn)

	mustWrite(t, conn, "outcp /note.txt")
	mustReadOK(t, conn)
	got := mustReadBlob(t, conn)
	if got != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestUnknownCommand(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "register alice hunter2")
	mustReadOK(t, conn)

	mustWrite(t, conn, "frobnicate")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(resp, wire.CommandFailed) {
		t.Fatalf("got %q, want prefix %q", resp, wire.CommandFailed)
	}
}

func TestShortVerbAliases(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "register alice hunter2")
	mustReadOK(t, conn)

	mustWrite(t, conn, "md /docs")
	mustReadOK(t, conn)

	mustCreateFile(t, conn, "newfile /docs/a.txt", "hello")

	mustWrite(t, conn, "rd /docs")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != wire.CommandConfirm {
		t.Fatalf("expected rd of non-empty dir to ask for confirmation, got %q", resp)
	}
	mustWrite(t, conn, "n")
	mustReadOK(t, conn)

	mustWrite(t, conn, "ls /docs")
	mustReadOK(t, conn)
	blob := mustReadBlob(t, conn)
	if !strings.Contains(blob, "a.txt") {
		t.Fatalf("declining the confirmation should leave /docs untouched, got %q", blob)
	}
}

func TestRmdirRecursiveAfterConfirm(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "login root secret")
	mustReadOK(t, conn)

	mustWrite(t, conn, "mkdir /docs")
	mustReadOK(t, conn)
	mustCreateFile(t, conn, "touch /docs/a.txt", "hello")

	mustWrite(t, conn, "rmdir /docs")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != wire.CommandConfirm {
		t.Fatalf("got %q, want %q", resp, wire.CommandConfirm)
	}
	mustWrite(t, conn, "y")
	mustReadOK(t, conn)

	mustWrite(t, conn, "ls /docs")
	resp, err = conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(resp, wire.CommandFailed) {
		t.Fatalf("expected /docs to be gone after confirmed recursive rmdir, got %q", resp)
	}
}

func TestUsersRequiresRoot(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "register alice hunter2")
	mustReadOK(t, conn)

	mustWrite(t, conn, "users")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(resp, wire.CommandFailed) {
		t.Fatalf("expected non-root users to fail, got %q", resp)
	}

	mustWrite(t, conn, "login root secret")
	mustReadOK(t, conn)
	mustWrite(t, conn, "users")
	mustReadOK(t, conn)
	blob := mustReadBlob(t, conn)
	if !strings.Contains(blob, "root") || !strings.Contains(blob, "alice") {
		t.Fatalf("users output missing accounts: %q", blob)
	}
}

func TestFormattingResetsImage(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "login root secret")
	mustReadOK(t, conn)

	mustWrite(t, conn, "mkdir /docs")
	mustReadOK(t, conn)

	mustWrite(t, conn, "formatting")
	mustReadOK(t, conn)

	mustWrite(t, conn, "ls /docs")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(resp, wire.CommandFailed) {
		t.Fatalf("expected /docs to be gone after formatting, got %q", resp)
	}
}

func TestExitClosesSession(t *testing.T) {
	d := newTestDispatcher(t)
	conn, cleanup := harness(t, d)
	defer cleanup()

	mustWrite(t, conn, "exit")
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != wire.Bye {
		t.Fatalf("got %q, want %q", resp, wire.Bye)
	}
}

func mustWrite(t *testing.T, conn *wire.Conn, line string) {
	t.Helper()
	if err := conn.WriteLine(line); err != nil {
		t.Fatalf("write %q: %v", line, err)
	}
}

func mustReadOK(t *testing.T, conn *wire.Conn) {
	t.Helper()
	resp, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp != wire.CommandOK {
		t.Fatalf("got %q, want %q", resp, wire.CommandOK)
	}
}

// mustCreateFile runs a "newfile"/"touch" line through the content
// prompt round trip and fails the test on any deviation.
func mustCreateFile(t *testing.T, conn *wire.Conn, line, content string) {
	t.Helper()
	mustWrite(t, conn, line)
	prompt, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("read prompt: %v", err)
	}
	if prompt != wire.InputFileContent {
		t.Fatalf("got %q, want %q", prompt, wire.InputFileContent)
	}
	if err := conn.WriteBlob([]byte(content)); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	mustReadOK(t, conn)
}

func mustReadBlob(t *testing.T, conn *wire.Conn) string {
	t.Helper()
	blob, err := conn.ReadBlob()
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	return string(blob)
}
