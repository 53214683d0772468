package dirent

import "testing"

func TestMarshalRoundTrip(t *testing.T) {
	e := Entry{Name: "readme", Ext: "txt", IsDir: false, InodeID: 12}
	raw, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(raw) != EntrySize {
		t.Fatalf("size = %d, want %d", len(raw), EntrySize)
	}
	got, err := Unmarshal(raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != e {
		t.Fatalf("got %+v, want %+v", got, e)
	}
}

func TestFullName(t *testing.T) {
	cases := []struct {
		e    Entry
		want string
	}{
		{Entry{Name: "docs", IsDir: true}, "docs"},
		{Entry{Name: "readme", Ext: "txt"}, "readme.txt"},
	}
	for _, c := range cases {
		if got := c.e.FullName(); got != c.want {
			t.Errorf("FullName() = %q, want %q", got, c.want)
		}
	}
}

func TestSplitName(t *testing.T) {
	name, ext := SplitName("readme.txt")
	if name != "readme" || ext != "txt" {
		t.Fatalf("got %q %q", name, ext)
	}
	name, ext = SplitName("docs")
	if name != "docs" || ext != "" {
		t.Fatalf("got %q %q", name, ext)
	}
}

func TestEncodeDecodeAll(t *testing.T) {
	entries := []Entry{
		{Name: ".", IsDir: true, InodeID: 1},
		{Name: "..", IsDir: true, InodeID: 0},
		{Name: "a", Ext: "go", InodeID: 5},
	}
	raw, err := EncodeAll(entries)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestDecodeAllSkipsZeroPadding(t *testing.T) {
	raw := make([]byte, EntrySize*3)
	e := Entry{Name: "x", InodeID: 2}
	encoded, _ := e.Marshal()
	copy(raw[EntrySize:], encoded)

	got, err := DecodeAll(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0] != e {
		t.Fatalf("got %+v", got)
	}
}

func TestLookupInsertRemove(t *testing.T) {
	var entries []Entry
	entries, err := Insert(entries, Entry{Name: "a", InodeID: 1})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	entries, err = Insert(entries, Entry{Name: "b", InodeID: 2})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := Insert(entries, Entry{Name: "a", InodeID: 3}); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	if _, ok := Lookup(entries, "a"); !ok {
		t.Fatalf("expected to find \"a\"")
	}

	entries, err = Remove(entries, "a")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Fatalf("got %+v", entries)
	}

	if _, err := Remove(entries, "missing"); err == nil {
		t.Fatalf("expected remove of missing entry to fail")
	}
}
