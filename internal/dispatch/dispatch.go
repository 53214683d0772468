// Package dispatch turns lines read off a wire.Conn into engine calls
// and formats their results back onto the wire, the network-facing
// equivalent of the teacher's command_interpreter.
package dispatch

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"simplefsd/internal/engine"
	"simplefsd/internal/session"
	"simplefsd/internal/wire"
)

// Dispatcher binds one engine and session registry to any number of
// concurrent connections.
type Dispatcher struct {
	Engine    *engine.Engine
	Sessions  *session.Registry
	Log       *logrus.Entry
}

// Serve reads commands from rw until the client disconnects or sends
// "exit", one goroutine per connection as the concurrency model
// requires. It never holds the engine lock while blocked on
// conn.ReadLine — every engine call below returns before the next
// read.
func (d *Dispatcher) Serve(rw io.ReadWriter) {
	conn := wire.NewConn(rw, rw)
	sess := d.Sessions.Open()
	defer d.Sessions.Close(sess.ID)

	for {
		line, err := conn.ReadLine()
		if err != nil {
			if err != io.EOF && d.Log != nil {
				d.Log.WithError(err).Warn("connection read failed")
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		if cmd == "exit" {
			conn.WriteLine(wire.Bye)
			return
		}
		if !sess.LoggedIn && cmd != "login" && cmd != "register" {
			conn.WriteLine(wire.LoginOrRegisterFirst)
			continue
		}

		if err := d.dispatch(conn, sess, cmd, args); err != nil {
			conn.WriteLine(fmt.Sprintf("%s: %v", wire.CommandFailed, err))
			continue
		}
	}
}

func (d *Dispatcher) dispatch(conn *wire.Conn, sess *session.Session, cmd string, args []string) error {
	switch cmd {
	case "login":
		return d.login(conn, sess, args)
	case "register":
		return d.register(conn, sess, args)
	case "logout":
		sess.Logout()
		return conn.WriteLine(wire.CommandOK)
	case "pwd":
		return d.pwd(conn, sess)
	case "cd":
		return d.cd(conn, sess, args)
	case "ls", "dir":
		return d.dir(conn, sess, args)
	case "mkdir", "md":
		return d.mkdir(conn, sess, args)
	case "rmdir", "rd":
		return d.rmdir(conn, sess, args)
	case "touch", "newfile":
		return d.newfile(conn, sess, args)
	case "cat":
		return d.cat(conn, sess, args)
	case "rm", "del":
		return d.rm(conn, sess, args)
	case "cp":
		return d.cp(conn, sess, args)
	case "copy":
		return d.copyCmd(conn, sess, args)
	case "mv":
		return d.mv(conn, sess, args)
	case "info":
		return d.info(conn, sess, args)
	case "incp":
		return d.incp(conn, sess, args)
	case "outcp":
		return d.outcp(conn, sess, args)
	case "check":
		return d.check(conn, sess)
	case "users":
		return d.users(conn, sess)
	case "formatting":
		return d.formatting(conn, sess)
	case "help":
		return d.help(conn)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func needArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}
