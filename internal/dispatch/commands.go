package dispatch

import (
	"fmt"
	"os"
	"strings"

	"simplefsd/internal/engine"
	"simplefsd/internal/session"
	"simplefsd/internal/wire"
)

const hostPrefix = "<host>"

func (d *Dispatcher) login(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	id, err := d.Engine.Login(args[0], args[1])
	if err != nil {
		return err
	}
	sess.Login(id.Username, id.UID, id.GID)
	sess.CWDInode = d.Engine.RootID()
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) register(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	id, err := d.Engine.Register(args[0], args[1])
	if err != nil {
		return err
	}
	sess.Login(id.Username, id.UID, id.GID)
	sess.CWDInode = d.Engine.RootID()
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) pwd(conn *wire.Conn, sess *session.Session) error {
	path, err := d.Engine.Pwd(sess.CWDInode)
	if err != nil {
		return err
	}
	return conn.WriteLine(path)
}

func (d *Dispatcher) cd(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	id, err := d.Engine.ChangeDir(sess.CWDInode, args[0], sess.UID, sess.GID)
	if err != nil {
		return err
	}
	sess.CWDInode = id
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) dir(conn *wire.Conn, sess *session.Session, args []string) error {
	path := ""
	if len(args) > 0 {
		path = args[0]
	}
	entries, err := d.Engine.Dir(sess.CWDInode, path, sess.UID, sess.GID)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		kind := "F"
		if e.IsDir {
			kind = "D"
		}
		fmt.Fprintf(&b, "%s %s\n", kind, e.FullName())
	}
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob([]byte(b.String()))
}

func (d *Dispatcher) mkdir(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	if err := d.Engine.Mkdir(sess.CWDInode, args[0], sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

// rmdir removes an empty directory outright. A non-empty directory is
// not removed here: the daemon asks the client to confirm a recursive
// delete first, the same way the original shell's "y"/"n" prompt for
// rd works, then only recurses if the client answers "y".
func (d *Dispatcher) rmdir(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	err := d.Engine.Rmdir(sess.CWDInode, args[0], sess.UID, sess.GID)
	if err == nil {
		return conn.WriteLine(wire.CommandOK)
	}
	if engine.KindOf(err) != engine.KindNotEmpty {
		return err
	}

	if err := conn.WriteLine(wire.CommandConfirm); err != nil {
		return err
	}
	answer, err := conn.ReadLine()
	if err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(answer)) != "y" {
		return conn.WriteLine(wire.CommandOK)
	}
	if err := d.Engine.RemoveTree(sess.CWDInode, args[0], sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

// newfile creates path, then prompts for content the same way incp
// does and writes the one blob the client sends back, so an empty
// blob still leaves an empty file rather than skipping the round trip.
func (d *Dispatcher) newfile(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	if err := d.Engine.CreateFile(sess.CWDInode, args[0], sess.UID, sess.GID); err != nil {
		return err
	}
	if err := conn.WriteLine(wire.InputFileContent); err != nil {
		return err
	}
	content, err := conn.ReadBlob()
	if err != nil {
		return err
	}
	if err := d.Engine.WriteFile(sess.CWDInode, args[0], content, sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) cat(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	content, err := d.Engine.ReadFile(sess.CWDInode, args[0], sess.UID, sess.GID)
	if err != nil {
		return err
	}
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob(content)
}

func (d *Dispatcher) rm(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	if err := d.Engine.Remove(sess.CWDInode, args[0], sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) cp(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	if err := d.Engine.Copy(sess.CWDInode, args[0], args[1], sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

// copyCmd implements the "copy" verb's <host> source convention: a
// source prefixed with <host> is read straight off the daemon's own
// filesystem instead of the image, mirroring the original shell's
// copy semantics without routing host bytes through the wire twice.
func (d *Dispatcher) copyCmd(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	src, dst := args[0], args[1]
	if hostPath, ok := strings.CutPrefix(src, hostPrefix); ok {
		content, err := os.ReadFile(hostPath)
		if err != nil {
			return fmt.Errorf("read host file: %w", err)
		}
		if err := d.Engine.WriteFile(sess.CWDInode, dst, content, sess.UID, sess.GID); err != nil {
			return err
		}
		return conn.WriteLine(wire.CommandOK)
	}
	if err := d.Engine.Copy(sess.CWDInode, src, dst, sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) mv(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 2); err != nil {
		return err
	}
	if err := d.Engine.Move(sess.CWDInode, args[0], args[1], sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) info(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	st, err := d.Engine.Info(sess.CWDInode, args[0], sess.UID, sess.GID)
	if err != nil {
		return err
	}
	kind := "file"
	if st.IsDir {
		kind = "dir"
	}
	summary := fmt.Sprintf("inode=%d name=%s kind=%s size=%d mode=%o blocks=%d",
		st.InodeID, st.Name, kind, st.Size, st.Mode, st.Blocks)
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob([]byte(summary))
}

// incp receives file content pushed by the client (the client having
// read it from its own host filesystem) and writes it into the image.
func (d *Dispatcher) incp(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	if err := conn.WriteLine(wire.InputFileContent); err != nil {
		return err
	}
	content, err := conn.ReadBlob()
	if err != nil {
		return err
	}
	if err := d.Engine.WriteFile(sess.CWDInode, args[0], content, sess.UID, sess.GID); err != nil {
		return err
	}
	return conn.WriteLine(wire.CommandOK)
}

// outcp sends a file's content to the client, which is responsible
// for writing it to its own host filesystem.
func (d *Dispatcher) outcp(conn *wire.Conn, sess *session.Session, args []string) error {
	if err := needArgs(args, 1); err != nil {
		return err
	}
	content, err := d.Engine.ReadFile(sess.CWDInode, args[0], sess.UID, sess.GID)
	if err != nil {
		return err
	}
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob(content)
}

func (d *Dispatcher) users(conn *wire.Conn, sess *session.Session) error {
	accounts, err := d.Engine.ListUsers(sess.UID)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, a := range accounts {
		fmt.Fprintf(&b, "%s uid=%d gid=%d\n", a.Username, a.UID, a.GID)
	}
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob([]byte(b.String()))
}

// formatting wipes the open image back to a fresh root and account
// file, root only, since it discards every other user's data.
func (d *Dispatcher) formatting(conn *wire.Conn, sess *session.Session) error {
	if sess.UID != 0 {
		return fmt.Errorf("formatting requires root")
	}
	if err := d.Engine.Reformat(); err != nil {
		return err
	}
	sess.CWDInode = d.Engine.RootID()
	return conn.WriteLine(wire.CommandOK)
}

func (d *Dispatcher) help(conn *wire.Conn) error {
	commands := "info dir cd md rd newfile cat copy cp mv del rm check formatting users login register logout incp outcp help exit"
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob([]byte(commands))
}

func (d *Dispatcher) check(conn *wire.Conn, sess *session.Session) error {
	report, err := d.Engine.Check()
	if err != nil {
		return err
	}
	summary := fmt.Sprintf(
		"inodes=%d data_blocks=%d leaked_inodes=%d leaked_data=%d corrupt_inode_bits=%d corrupt_data_bits=%d",
		report.InodesReconstructed, report.DataBlocksReconstructed,
		report.LeakedInodesCleared, report.LeakedDataBlocksCleared,
		len(report.CorruptInodeBits), len(report.CorruptDataBits))
	if err := conn.WriteLine(wire.CommandOK); err != nil {
		return err
	}
	return conn.WriteBlob([]byte(summary))
}
