// Package pathwalk resolves shell-style paths against the directory
// tree. "." and ".." are ordinary entries stored in every directory's
// content, never special-cased by the resolver.
package pathwalk

import (
	"fmt"
	"strings"

	"simplefsd/internal/dirent"
	"simplefsd/internal/disk"
	"simplefsd/internal/inode"
)

// Result carries both the resolved inode and its parent, since the
// removing and moving callers (rm, rmdir, mv) need to mutate the
// parent's entry list too.
type Result struct {
	InodeID       uint16
	ParentInodeID uint16
	Name          string
}

// Resolve walks path starting from cwd (if relative) or the root (if
// absolute), returning the id of the final component and its parent.
// An empty path resolves to cwd itself, with parent equal to cwd's own
// parent as recorded by its ".." entry.
func Resolve(table *inode.Table, store *disk.Store, root, cwd uint16, path string) (Result, error) {
	start := cwd
	if strings.HasPrefix(path, "/") {
		start = root
	}
	components := splitComponents(path)
	if len(components) == 0 {
		parent, err := lookupDotDot(table, store, start)
		if err != nil {
			return Result{}, err
		}
		return Result{InodeID: start, ParentInodeID: parent, Name: "."}, nil
	}

	current := start
	parent := start
	var name string
	for i, comp := range components {
		n, err := table.Read(current)
		if err != nil {
			return Result{}, err
		}
		if !n.IsDir() {
			return Result{}, fmt.Errorf("pathwalk: %q is not a directory", comp)
		}
		entries, err := readDir(&n, store)
		if err != nil {
			return Result{}, err
		}
		e, ok := dirent.Lookup(entries, comp)
		if !ok {
			return Result{}, fmt.Errorf("pathwalk: %q: no such file or directory", comp)
		}
		parent = current
		current = e.InodeID
		name = comp
		if i < len(components)-1 && !e.IsDir {
			return Result{}, fmt.Errorf("pathwalk: %q is not a directory", comp)
		}
	}
	return Result{InodeID: current, ParentInodeID: parent, Name: name}, nil
}

// ResolveDir is like Resolve but additionally requires the resolved
// inode to be a directory, as most cd/ls/mkdir-parent callers need.
func ResolveDir(table *inode.Table, store *disk.Store, root, cwd uint16, path string) (Result, error) {
	res, err := Resolve(table, store, root, cwd, path)
	if err != nil {
		return Result{}, err
	}
	n, err := table.Read(res.InodeID)
	if err != nil {
		return Result{}, err
	}
	if !n.IsDir() {
		return Result{}, fmt.Errorf("pathwalk: %q is not a directory", path)
	}
	return res, nil
}

// SplitParent separates path into the parent directory path and the
// final component name, the way filepath.Split does for host paths.
func SplitParent(path string) (parentPath, name string) {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "", trimmed
	}
	if idx == 0 {
		return "/", trimmed[1:]
	}
	return trimmed[:idx], trimmed[idx+1:]
}

func splitComponents(path string) []string {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func readDir(n *inode.Inode, store *disk.Store) ([]dirent.Entry, error) {
	content, err := inode.ReadAll(n, store)
	if err != nil {
		return nil, err
	}
	return dirent.DecodeAll(content)
}

func lookupDotDot(table *inode.Table, store *disk.Store, id uint16) (uint16, error) {
	n, err := table.Read(id)
	if err != nil {
		return 0, err
	}
	entries, err := readDir(&n, store)
	if err != nil {
		return 0, err
	}
	e, ok := dirent.Lookup(entries, "..")
	if !ok {
		return id, nil
	}
	return e.InodeID, nil
}
