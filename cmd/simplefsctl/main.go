// Command simplefsctl is a thin client for exercising a running
// simplefsd: it connects, sends one line, and prints the response,
// handling the incp/outcp/newfile blob exchange and the rd
// confirmation prompt when the command needs them. Each run opens a
// new session that is not logged in, so the daemon answers any
// command other than login, register and exit with its
// login-required line.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"simplefsd/internal/wire"
)

func main() {
	app := &cli.App{
		Name:  "simplefsctl",
		Usage: "send one command to a running simplefsd and print the response",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "localhost:6503", Usage: "daemon address"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "simplefsctl:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("usage: simplefsctl [--addr host:port] <command...>")
	}
	line := strings.Join(c.Args().Slice(), " ")

	conn, err := net.Dial("tcp", c.String("addr"))
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	w := wire.NewConn(conn, conn)
	fields := strings.Fields(line)
	cmd := ""
	if len(fields) > 0 {
		cmd = strings.ToLower(fields[0])
	}

	if err := w.WriteLine(line); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	if cmd == "incp" && len(fields) >= 2 {
		return handleIncp(w, fields)
	}
	if cmd == "touch" || cmd == "newfile" {
		return handleNewfile(w)
	}

	resp, err := w.ReadLine()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp == wire.CommandConfirm {
		return handleConfirm(w)
	}
	fmt.Println(resp)
	if resp != wire.CommandOK {
		return nil
	}

	switch cmd {
	case "ls", "dir", "cat", "info", "check", "outcp":
		blob, err := w.ReadBlob()
		if err != nil {
			return fmt.Errorf("read blob: %w", err)
		}
		if cmd == "outcp" && len(fields) >= 3 {
			return os.WriteFile(fields[2], blob, 0o644)
		}
		fmt.Print(string(blob))
		if len(blob) > 0 && blob[len(blob)-1] != '\n' {
			fmt.Println()
		}
	}
	return nil
}

// handleConfirm answers a non-empty "rd"'s y/n prompt from the
// controlling terminal, the one-shot client's substitute for the
// interactive shell's own confirmation loop.
func handleConfirm(w *wire.Conn) error {
	fmt.Print("directory is not empty, remove recursively? [y/N] ")
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if err := w.WriteLine(strings.TrimSpace(answer)); err != nil {
		return fmt.Errorf("write confirmation: %w", err)
	}
	resp, err := w.ReadLine()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Println(resp)
	return nil
}

// handleNewfile answers the daemon's content prompt for "touch"/
// "newfile" by reading the rest of stdin to EOF, the one-shot
// client's stand-in for the interactive shell's own line-by-line
// content entry.
func handleNewfile(w *wire.Conn) error {
	prompt, err := w.ReadLine()
	if err != nil {
		return fmt.Errorf("read prompt: %w", err)
	}
	if prompt != wire.InputFileContent {
		fmt.Println(prompt)
		return nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}
	if err := w.WriteBlob(data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	resp, err := w.ReadLine()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Println(resp)
	return nil
}

// handleIncp expects "incp <fsDst> <hostSrc>": it reads the local
// host file and streams it up once the daemon prompts for content.
func handleIncp(w *wire.Conn, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("usage: incp <fs-dest> <host-src>")
	}
	hostPath := fields[2]

	prompt, err := w.ReadLine()
	if err != nil {
		return fmt.Errorf("read prompt: %w", err)
	}
	if prompt != wire.InputFileContent {
		fmt.Println(prompt)
		return nil
	}
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return fmt.Errorf("read host file: %w", err)
	}
	if err := w.WriteBlob(data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	resp, err := w.ReadLine()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	fmt.Println(resp)
	return nil
}
