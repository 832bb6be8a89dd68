package onefile

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/pangenome/onecode/pkg/schema"
)

const seqSchemaText = `
P 3 seq
O S 2 3 INT 6 STRING
D Q 1 9 REAL_LIST
D N 2 4 CHAR 8 INT_LIST
D F 3 3 INT 4 REAL 4 CHAR
D L 1 11 STRING_LIST
D D 1 3 DNA
`

func seqSchema(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.FromText(seqSchemaText)
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	return sch
}

// longInts is large enough that its binary encoding crosses the
// compression threshold.
func longInts() []int64 {
	vals := make([]int64, 200)
	for i := range vals {
		vals[i] = int64(i) * 3
	}
	return vals
}

// writeKitchenSink writes one line of every field and list kind, plus
// header metadata and a comment.
func writeKitchenSink(t *testing.T, path string, binary bool) {
	t.Helper()
	f, err := OpenWriteNew(path, seqSchema(t), "seq", binary, 1)
	if err != nil {
		t.Fatalf("open for writing: %v", err)
	}
	if !f.AddProvenance("onecode-test", "0.1", "unit fixture") {
		t.Fatal("AddProvenance before data = false, want true")
	}
	if !f.AddReference("input.1seq", 7) {
		t.Fatal("AddReference before data = false, want true")
	}

	f.SetInt(0, 42)
	if err := f.WriteLine('S', 5, "alpha"); err != nil {
		t.Fatalf("write S: %v", err)
	}
	if !f.WriteComment("first object") {
		t.Fatal("WriteComment after a line = false, want true")
	}

	if f.AddProvenance("late", "0.1", "") {
		t.Fatal("AddProvenance after data = true, want false")
	}
	if f.AddReference("late.1seq", 1) {
		t.Fatal("AddReference after data = true, want false")
	}

	if err := f.WriteLine('Q', 3, []float64{1.5, -2.25, 3.14159}); err != nil {
		t.Fatalf("write Q: %v", err)
	}

	f.SetChar(0, 'x')
	if err := f.WriteLine('N', 200, longInts()); err != nil {
		t.Fatalf("write N: %v", err)
	}

	f.SetInt(0, -7)
	f.SetReal(1, 2.5e-3)
	f.SetChar(2, 'Z')
	if err := f.WriteLine('F', 0, nil); err != nil {
		t.Fatalf("write F: %v", err)
	}

	if err := f.WriteLine('L', 3, []string{"red", "two words", ""}); err != nil {
		t.Fatalf("write L: %v", err)
	}
	if err := f.WriteLine('D', 8, "acgtacgt"); err != nil {
		t.Fatalf("write D: %v", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func readKitchenSink(t *testing.T, path string) {
	t.Helper()
	f, err := OpenRead(path, nil, "seq", 2)
	if err != nil {
		t.Fatalf("open for reading: %v", err)
	}
	defer f.Close()

	if f.FileType() != "seq" {
		t.Errorf("FileType = %q, want seq", f.FileType())
	}
	if got := f.Provenance(); len(got) != 1 || got[0].Program != "onecode-test" {
		t.Errorf("Provenance = %+v, want one onecode-test entry", got)
	}
	if got := f.References(); len(got) != 1 || got[0] != (Reference{Filename: "input.1seq", Count: 7}) {
		t.Errorf("References = %+v", got)
	}

	mustRead := func(want byte) {
		t.Helper()
		tag, err := f.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: %v", err)
		}
		if tag != want {
			t.Fatalf("tag = %q, want %q", tag, want)
		}
	}

	mustRead('S')
	if f.Int(0) != 42 {
		t.Errorf("S int field = %d, want 42", f.Int(0))
	}
	if f.String() != "alpha" || f.Len() != 5 {
		t.Errorf("S payload = %q len %d, want alpha/5", f.String(), f.Len())
	}
	if f.ReadComment() != "first object" {
		t.Errorf("comment = %q, want %q", f.ReadComment(), "first object")
	}

	mustRead('Q')
	if f.ReadComment() != "" {
		t.Errorf("comment leaked to next line: %q", f.ReadComment())
	}
	want := []float64{1.5, -2.25, 3.14159}
	got := f.RealList()
	if len(got) != len(want) {
		t.Fatalf("Q list = %v, want %v", got, want)
	}
	// Reals travel as raw 8-byte words, so round-tripping is bit exact.
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Q list[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	mustRead('N')
	if f.Char(0) != 'x' {
		t.Errorf("N char field = %q, want x", f.Char(0))
	}
	if !reflect.DeepEqual(f.IntList(), longInts()) {
		t.Errorf("N list does not round-trip")
	}

	mustRead('F')
	if f.Int(0) != -7 || f.Real(1) != 2.5e-3 || f.Char(2) != 'Z' {
		t.Errorf("F fields = %d %v %q", f.Int(0), f.Real(1), f.Char(2))
	}
	if !f.IsEmpty() {
		t.Errorf("F list length = %d, want 0", f.Len())
	}

	mustRead('L')
	if !reflect.DeepEqual(f.Strings(), []string{"red", "two words", ""}) {
		t.Errorf("L list = %q", f.Strings())
	}

	mustRead('D')
	if string(f.DNAChar()) != "acgtacgt" {
		t.Errorf("D bases = %q, want acgtacgt", f.DNAChar())
	}
	if !reflect.DeepEqual(f.DNA2Bit(), []byte{0xe4, 0xe4}) {
		t.Errorf("D packed = %x, want e4e4", f.DNA2Bit())
	}

	if tag, err := f.ReadLine(); err != nil || tag != 0 {
		t.Fatalf("read past end = %q, %v, want 0, nil", tag, err)
	}

	for tag, want := range map[byte]Counts{
		'S': {Count: 1, Max: 5, Total: 5},
		'Q': {Count: 1, Max: 3, Total: 3},
		'N': {Count: 1, Max: 200, Total: 200},
		'F': {Count: 1},
		'L': {Count: 1, Max: 3, Total: 3},
		'D': {Count: 1, Max: 8, Total: 8},
	} {
		c, err := f.Stats(tag)
		if err != nil {
			t.Fatalf("Stats(%q): %v", tag, err)
		}
		if c != want {
			t.Errorf("Stats(%q) = %+v, want %+v", tag, c, want)
		}
	}
	if _, err := f.Stats('Z'); err == nil {
		t.Error("Stats of unknown type = nil error")
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		binary bool
	}{
		{"binary", true},
		{"ascii", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sink.1seq")
			writeKitchenSink(t, path, tc.binary)
			readKitchenSink(t, path)
		})
	}
}

const objSchemaText = `
P 3 seq
O S 1 6 STRING
`

// writeObjects writes n S objects named s1..sn.
func writeObjects(t *testing.T, path string, n int, binary bool) {
	t.Helper()
	sch, err := schema.FromText(objSchemaText)
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	f, err := OpenWriteNew(path, sch, "seq", binary, 1)
	if err != nil {
		t.Fatalf("open for writing: %v", err)
	}
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("s%d", i)
		if err := f.WriteLine('S', int64(len(name)), name); err != nil {
			t.Fatalf("write object %d: %v", i, err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestGotoMatchesSequentialScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.1seq")
	writeObjects(t, path, 5, true)

	f, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var sequential []string
	for {
		tag, err := f.ReadLine()
		if err != nil {
			t.Fatalf("sequential read: %v", err)
		}
		if tag == 0 {
			break
		}
		sequential = append(sequential, f.String())
	}
	if len(sequential) != 5 {
		t.Fatalf("sequential scan found %d objects, want 5", len(sequential))
	}

	for i := int64(1); i <= 5; i++ {
		if err := f.Goto('S', i); err != nil {
			t.Fatalf("Goto(S,%d): %v", i, err)
		}
		tag, err := f.ReadLine()
		if err != nil || tag != 'S' {
			t.Fatalf("read after Goto(S,%d) = %q, %v", i, tag, err)
		}
		if f.String() != sequential[i-1] {
			t.Errorf("Goto(S,%d) payload = %q, want %q", i, f.String(), sequential[i-1])
		}
	}

	// Access order must not matter.
	if err := f.Goto('S', 2); err != nil {
		t.Fatalf("Goto(S,2): %v", err)
	}
	if _, err := f.ReadLine(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.String() != "s2" {
		t.Errorf("backward Goto payload = %q, want s2", f.String())
	}

	var rng *RangeError
	if err := f.Goto('S', 6); !errors.As(err, &rng) {
		t.Errorf("Goto(S,6) = %v, want RangeError", err)
	}
}

func TestGotoZeroReplaysStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.1seq")
	writeObjects(t, path, 3, true)

	f, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scan := func() []string {
		var out []string
		for {
			tag, err := f.ReadLine()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if tag == 0 {
				return out
			}
			out = append(out, f.String())
		}
	}

	first := scan()
	if err := f.Goto('S', 0); err != nil {
		t.Fatalf("Goto(S,0): %v", err)
	}
	second := scan()
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay = %v, want %v", second, first)
	}
}

const twoKindSchemaText = `
P 3 seq
O S 1 6 STRING
O T 1 6 STRING
`

// An indexed type the file holds no objects of is out of range, not a
// structural failure; callers probing with Goto rely on the distinction.
func TestGotoAbsentTypeIsOutOfRange(t *testing.T) {
	sch, err := schema.FromText(twoKindSchemaText)
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	path := filepath.Join(t.TempDir(), "objects.1seq")
	f, err := OpenWriteNew(path, sch, "seq", true, 1)
	if err != nil {
		t.Fatalf("open for writing: %v", err)
	}
	if err := f.WriteLine('S', 2, "s1"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	var rng *RangeError
	if err := r.Goto('T', 1); !errors.As(err, &rng) {
		t.Fatalf("Goto(T,1) = %v, want RangeError", err)
	}
	if rng.Limit != 0 {
		t.Errorf("RangeError limit = %d, want 0", rng.Limit)
	}
}

func TestObjectCountFollowsReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.1seq")
	writeObjects(t, path, 3, true)

	f, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	for {
		tag, err := f.ReadLine()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if tag == 0 {
			break
		}
	}
	if n := f.Object('S'); n != 3 {
		t.Fatalf("Object(S) after scan = %d, want 3", n)
	}

	if err := f.Goto('S', 0); err != nil {
		t.Fatalf("Goto(S,0): %v", err)
	}
	if n := f.Object('S'); n != 0 {
		t.Errorf("Object(S) after rewind = %d, want 0", n)
	}
	if _, err := f.ReadLine(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := f.Object('S'); n != 1 {
		t.Errorf("Object(S) after replaying one line = %d, want 1", n)
	}

	if err := f.Goto('S', 2); err != nil {
		t.Fatalf("Goto(S,2): %v", err)
	}
	if _, err := f.ReadLine(); err != nil {
		t.Fatalf("read: %v", err)
	}
	if n := f.Object('S'); n != 2 {
		t.Errorf("Object(S) after Goto(S,2) = %d, want 2", n)
	}
}

// A position captured between the data lines of an object must restore to
// that exact line, not to the head of the object.
func TestRestoreWithinObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sink.1seq")
	writeKitchenSink(t, path, true)

	f, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	for _, want := range []byte{'S', 'Q', 'N'} {
		tag, err := f.ReadLine()
		if err != nil || tag != want {
			t.Fatalf("read = %q, %v, want %q", tag, err, want)
		}
	}
	pos := f.Position()

	// Wander off, then come back.
	if err := f.Goto('S', 1); err != nil {
		t.Fatalf("Goto(S,1): %v", err)
	}
	if err := f.Restore(pos); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	tag, err := f.ReadLine()
	if err != nil || tag != 'F' {
		t.Fatalf("read after restore = %q, %v, want F", tag, err)
	}

	// A position captured right after a Goto, before reading the object
	// line, restores to the line itself.
	if err := f.Goto('S', 1); err != nil {
		t.Fatalf("Goto(S,1): %v", err)
	}
	atObject := f.Position()
	if tag, err := f.ReadLine(); err != nil || tag != 'S' {
		t.Fatalf("read = %q, %v, want S", tag, err)
	}
	if err := f.Restore(atObject); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if tag, err := f.ReadLine(); err != nil || tag != 'S' {
		t.Fatalf("read after restore = %q, %v, want S", tag, err)
	}
}

func TestGotoOnASCIIFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.seq")
	writeObjects(t, path, 2, false)

	f, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if err := f.Goto('S', 1); !errors.Is(err, ErrNoIndex) {
		t.Errorf("Goto on ASCII file = %v, want ErrNoIndex", err)
	}
}

func TestOpenNonexistentReportsOwnPath(t *testing.T) {
	dir := t.TempDir()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	paths := make([]string, 8)
	for i := range errs {
		paths[i] = filepath.Join(dir, fmt.Sprintf("missing-%d.1seq", i))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = OpenRead(paths[i], nil, "", 1)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("open %s succeeded", paths[i])
		}
		var oe *OpenError
		if !errors.As(err, &oe) {
			t.Fatalf("open error type = %T", err)
		}
		if oe.Path != paths[i] {
			t.Errorf("error path = %q, want %q", oe.Path, paths[i])
		}
		if !strings.HasPrefix(err.Error(), "Failed to open file: ") ||
			!strings.Contains(err.Error(), paths[i]) {
			t.Errorf("error text = %q, want own path", err)
		}
	}
	if LastErrorString() == "" {
		t.Error("LastErrorString empty after failed opens")
	}
}

func TestOpenWrongTypeFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.1seq")
	writeObjects(t, path, 1, true)

	if _, err := OpenRead(path, nil, "aln", 1); err == nil {
		t.Error("open with mismatched type filter succeeded")
	}
	f, err := OpenRead(path, nil, "", 1)
	if err != nil {
		t.Fatalf("open without type filter: %v", err)
	}
	f.Close()
}

func TestOpenWriteFromInheritsAndConverts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.1seq")
	writeKitchenSink(t, src, true)

	in, err := OpenRead(src, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	defer in.Close()

	dstPath := filepath.Join(dir, "dst.seq")
	out, err := OpenWriteFrom(dstPath, in, false, 1)
	if err != nil {
		t.Fatalf("open derived writer: %v", err)
	}
	if got := out.Provenance(); len(got) != 1 || got[0].Program != "onecode-test" {
		t.Errorf("inherited provenance = %+v", got)
	}
	if out.ReferenceCount() != 1 {
		t.Errorf("inherited references = %d, want 1", out.ReferenceCount())
	}

	for {
		tag, err := in.ReadLine()
		if err != nil {
			t.Fatalf("read source: %v", err)
		}
		if tag == 0 {
			break
		}
		if err := out.CopyLine(in); err != nil {
			t.Fatalf("copy %q line: %v", tag, err)
		}
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close derived file: %v", err)
	}

	readKitchenSink(t, dstPath)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.1seq")
	writeObjects(t, path, 1, true)

	f, err := OpenRead(path, nil, "seq", 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := f.ReadLine(); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadLine after close = %v, want ErrClosed", err)
	}
	if err := f.Goto('S', 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Goto after close = %v, want ErrClosed", err)
	}
}

func TestEmptyFileRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		binary bool
	}{
		{"binary", true},
		{"ascii", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "empty.1seq")
			w, err := OpenWriteNew(path, seqSchema(t), "seq", tc.binary, 1)
			if err != nil {
				t.Fatalf("open for writing: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			f, err := OpenRead(path, nil, "seq", 1)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer f.Close()
			if tag, err := f.ReadLine(); err != nil || tag != 0 {
				t.Errorf("read of empty file = %q, %v, want 0, nil", tag, err)
			}
		})
	}
}
