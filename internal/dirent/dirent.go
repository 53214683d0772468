// Package dirent implements directory entries: fixed 16-byte records
// packed as an array inside a directory inode's own file content, with
// "." and ".." stored as ordinary entries rather than special-cased.
package dirent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// NameLen and ExtLen mirror the teacher's 8.3-style split, sized to
// give a little more room for the names this filesystem's shell
// accepts while keeping the record fixed at 16 bytes.
const (
	NameLen  = 10
	ExtLen   = 3
	EntrySize = NameLen + ExtLen + 1 + 2 // name + ext + isDir + inodeID
)

// Entry is one packed directory record.
type Entry struct {
	Name    string
	Ext     string
	IsDir   bool
	InodeID uint16
}

// Marshal encodes the entry to its fixed 16-byte on-disk form.
func (e Entry) Marshal() ([]byte, error) {
	if len(e.Name) > NameLen {
		return nil, fmt.Errorf("dirent: name %q exceeds %d bytes", e.Name, NameLen)
	}
	if len(e.Ext) > ExtLen {
		return nil, fmt.Errorf("dirent: extension %q exceeds %d bytes", e.Ext, ExtLen)
	}
	buf := make([]byte, EntrySize)
	copy(buf[0:NameLen], e.Name)
	copy(buf[NameLen:NameLen+ExtLen], e.Ext)
	if e.IsDir {
		buf[NameLen+ExtLen] = 1
	}
	binary.LittleEndian.PutUint16(buf[NameLen+ExtLen+1:], e.InodeID)
	return buf, nil
}

// Unmarshal decodes one 16-byte record.
func Unmarshal(raw []byte) (Entry, error) {
	if len(raw) != EntrySize {
		return Entry{}, fmt.Errorf("dirent: buffer size %d != %d", len(raw), EntrySize)
	}
	return Entry{
		Name:    strings.TrimRight(string(raw[0:NameLen]), "\x00"),
		Ext:     strings.TrimRight(string(raw[NameLen:NameLen+ExtLen]), "\x00"),
		IsDir:   raw[NameLen+ExtLen] != 0,
		InodeID: binary.LittleEndian.Uint16(raw[NameLen+ExtLen+1:]),
	}, nil
}

// FullName joins name and extension the way the shell displays them;
// a directory or an extension-less file omits the dot.
func (e Entry) FullName() string {
	if e.Ext == "" {
		return e.Name
	}
	return e.Name + "." + e.Ext
}

// SplitName splits a user-supplied path component into name/ext parts
// the same way the on-disk record stores them.
func SplitName(component string) (name, ext string) {
	idx := strings.LastIndex(component, ".")
	if idx < 0 {
		return component, ""
	}
	return component[:idx], component[idx+1:]
}

// DecodeAll parses a byte slice holding a whole directory's content
// into its entries. All-zero records are skipped wherever they occur,
// and trailing bytes shorter than one record are ignored.
func DecodeAll(content []byte) ([]Entry, error) {
	count := len(content) / EntrySize
	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		raw := content[i*EntrySize : (i+1)*EntrySize]
		if isZero(raw) {
			continue
		}
		e, err := Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// EncodeAll packs entries back into a contiguous byte slice.
func EncodeAll(entries []Entry) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, e := range entries {
		raw, err := e.Marshal()
		if err != nil {
			return nil, err
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

func isZero(raw []byte) bool {
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}

// Lookup finds an entry by its full displayed name (case-sensitive).
func Lookup(entries []Entry, fullName string) (Entry, bool) {
	for _, e := range entries {
		if e.FullName() == fullName {
			return e, true
		}
	}
	return Entry{}, false
}

// Insert appends an entry, rejecting a duplicate name within the same
// directory.
func Insert(entries []Entry, e Entry) ([]Entry, error) {
	if _, exists := Lookup(entries, e.FullName()); exists {
		return nil, fmt.Errorf("dirent: %q already exists", e.FullName())
	}
	return append(entries, e), nil
}

// Remove deletes the entry named fullName by swapping the last entry
// into its slot and shrinking the slice by one, avoiding a shift of
// every later record.
func Remove(entries []Entry, fullName string) ([]Entry, error) {
	for i, e := range entries {
		if e.FullName() == fullName {
			last := len(entries) - 1
			entries[i] = entries[last]
			return entries[:last], nil
		}
	}
	return nil, fmt.Errorf("dirent: %q not found", fullName)
}
