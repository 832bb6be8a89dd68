// Package onefile implements the ONE file engine: a session over one
// schema-driven record file in either ASCII or binary encoding, with
// sequential line access, random object access on binary files, header
// provenance/reference metadata, and per-line-type statistics.
package onefile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pangenome/onecode/pkg/schema"
)

// File is a handle over one open ONE file. A handle is not safe for
// concurrent use; all navigation and mutation must be serialized by the
// caller. The thread hint given at open time is advisory only.
type File struct {
	path    string
	schema  *schema.Schema
	primary string
	sub     string
	mode    mode
	binary  bool
	threads int

	f *os.File
	r *bufio.Reader
	w *bufio.Writer

	// off is the byte offset the next written record will land at.
	off int64

	line     int64
	lineType byte
	fields   []fieldValue
	listLen  int64

	// Current-line list buffers. Valid only until the next ReadLine or
	// WriteLine call.
	listBytes []byte
	listInts  []int64
	listReals []float64
	listStrs  []string
	list2bit  []byte
	comment   string

	// pending holds the raw first data line consumed while parsing an
	// ASCII header.
	pending    []string
	pendingRec []byte

	accum map[byte]*Counts
	given map[byte]*Counts
	index map[byte][]int64

	lastObj byte
	objRead map[byte]int64
	// sinceObj counts lines read since the start of the last object's
	// line: 1 on the object line itself, bumped by each data line after
	// it. -1 means a Goto landed before an object no line of which has
	// been read yet.
	sinceObj int64

	prov       []Provenance
	refs       []Reference
	headerDone bool
	dataStart  int64
	// dataEnd is the byte offset of the footer in a binary file opened for
	// reading; sequential reads stop there.
	dataEnd int64
	closed  bool
}

// OpenRead opens a ONE file for reading. If sch is nil the schema embedded
// in the file is used; otherwise the embedded schema must match it. If
// fileType is non-empty the file's primary or secondary type must equal it.
// threads is an advisory hint for parallel I/O striping and must be >= 1.
func OpenRead(path string, sch *schema.Schema, fileType string, threads int) (*File, error) {
	if threads < 1 {
		threads = 1
	}
	osf, err := os.Open(path)
	if err != nil {
		return nil, openFailed(path, err)
	}
	f := &File{
		path:    path,
		mode:    reading,
		threads: threads,
		f:       osf,
		r:       bufio.NewReader(osf),
		accum:   make(map[byte]*Counts),
		objRead: make(map[byte]int64),
	}

	magic, err := f.r.Peek(len(BeginMagic))
	if err == nil && string(magic) == BeginMagic {
		f.binary = true
		err = f.readBinaryHeader()
	} else {
		err = f.readASCIIHeader()
	}
	if err != nil {
		osf.Close()
		return nil, openFailed(path, err)
	}

	if sch != nil {
		if f.schema != nil && f.schema.Text() != sch.Text() {
			osf.Close()
			return nil, openFailedf(path, "schema validation failed: file schema does not match the supplied schema")
		}
		f.schema = sch
	}
	if f.schema == nil {
		osf.Close()
		return nil, openFailedf(path, "file carries no schema and none was supplied")
	}
	if fileType != "" && fileType != f.primary && fileType != f.sub {
		osf.Close()
		return nil, openFailedf(path, "file type %q does not match requested type %q", f.primary, fileType)
	}
	f.fields = make([]fieldValue, f.schema.MaxFields())
	return f, nil
}

// OpenWriteNew creates a ONE file for writing with the given schema and
// primary type. The header (schema, provenance, references) is emitted when
// the first data line is written, or at Close for an empty file.
func OpenWriteNew(path string, sch *schema.Schema, fileType string, binary bool, threads int) (*File, error) {
	if sch == nil {
		return nil, openFailedf(path, "cannot write without a schema")
	}
	if fileType != sch.FileType() && fileType != sch.SubType() {
		return nil, openFailedf(path, "type %q is not declared by the schema (primary %q)", fileType, sch.FileType())
	}
	if threads < 1 {
		threads = 1
	}
	osf, err := os.Create(path)
	if err != nil {
		return nil, openFailed(path, err)
	}
	return &File{
		path:    path,
		schema:  sch,
		primary: sch.FileType(),
		sub:     sch.SubType(),
		mode:    writing,
		binary:  binary,
		threads: threads,
		f:       osf,
		w:       bufio.NewWriter(osf),
		fields:  make([]fieldValue, sch.MaxFields()),
		accum:   make(map[byte]*Counts),
		index:   make(map[byte][]int64),
		objRead: make(map[byte]int64),
	}, nil
}

// OpenWriteFrom creates a ONE file for writing that inherits the source
// handle's schema, types, and provenance/reference chains.
func OpenWriteFrom(path string, source *File, binary bool, threads int) (*File, error) {
	f, err := OpenWriteNew(path, source.schema, source.primary, binary, threads)
	if err != nil {
		return nil, err
	}
	f.sub = source.sub
	f.InheritProvenance(source)
	f.InheritReference(source)
	return f, nil
}

// Path returns the path the handle was opened on.
func (f *File) Path() string { return f.path }

// FileName returns the base name of the open file.
func (f *File) FileName() string { return filepath.Base(f.path) }

// FileType returns the primary type name.
func (f *File) FileType() string { return f.primary }

// SubType returns the secondary type name, or "".
func (f *File) SubType() string { return f.sub }

// Schema returns the schema the handle operates under. Shared by reference;
// callers must not assume exclusive ownership.
func (f *File) Schema() *schema.Schema { return f.schema }

// Binary reports whether the file uses the binary encoding.
func (f *File) Binary() bool { return f.binary }

// LineType returns the tag of the current line, or 0 before the first read.
func (f *File) LineType() byte { return f.lineType }

// LineNumber returns the number of data lines read or written so far.
func (f *File) LineNumber() int64 { return f.line }

// Provenance returns the header provenance chain.
func (f *File) Provenance() []Provenance { return f.prov }

// References returns the header reference list.
func (f *File) References() []Reference { return f.refs }

// ReferenceCount returns the number of header reference entries.
func (f *File) ReferenceCount() int64 { return int64(len(f.refs)) }

// AddProvenance appends a provenance record to the header. It returns false
// once the first data line has been written: header metadata is only valid
// before data starts.
func (f *File) AddProvenance(program, version, command string) bool {
	if f.headerDone || f.mode != writing {
		return false
	}
	f.prov = append(f.prov, Provenance{
		Program: program,
		Version: version,
		Command: command,
		Date:    time.Now().Format("2006-01-02_15:04:05"),
	})
	return true
}

// AddReference appends a reference record to the header. Same ordering rule
// as AddProvenance.
func (f *File) AddReference(filename string, count int64) bool {
	if f.headerDone || f.mode != writing {
		return false
	}
	f.refs = append(f.refs, Reference{Filename: filename, Count: count})
	return true
}

// InheritProvenance appends the source handle's provenance chain to this
// file's header. Returns false once data has been written.
func (f *File) InheritProvenance(source *File) bool {
	if f.headerDone || f.mode != writing {
		return false
	}
	f.prov = append(f.prov, source.prov...)
	return true
}

// InheritReference appends the source handle's reference list to this
// file's header. Returns false once data has been written.
func (f *File) InheritReference(source *File) bool {
	if f.headerDone || f.mode != writing {
		return false
	}
	f.refs = append(f.refs, source.refs...)
	return true
}

// Stats returns (count, max list length, total list length) for a line
// type. For binary files opened for reading the totals come from the file
// footer and are valid immediately after open; otherwise they reflect the
// lines read or written so far.
func (f *File) Stats(tag byte) (Counts, error) {
	if _, ok := f.schema.Line(tag); !ok {
		return Counts{}, fmt.Errorf("failed to get stats for line type %q: unknown to schema", tag)
	}
	if f.given != nil {
		if c, ok := f.given[tag]; ok {
			return *c, nil
		}
		return Counts{}, nil
	}
	if c, ok := f.accum[tag]; ok {
		return *c, nil
	}
	return Counts{}, nil
}

// Object returns the number of lines of the given type read or written so
// far, or -1 if the type is unknown to the schema. On binary read handles
// the count follows the cursor: a Goto back rewinds it, so a replayed
// stream counts each line once.
func (f *File) Object(tag byte) int64 {
	lt, ok := f.schema.Line(tag)
	if !ok {
		return -1
	}
	if f.mode == reading && f.binary && lt.Kind != schema.KindData {
		return f.objRead[tag]
	}
	if c, ok := f.accum[tag]; ok {
		return c.Count
	}
	return 0
}

// Field accessors. Field numbers are bounds-checked against the widest line
// type; out-of-range access panics rather than reading adjacent state.

func (f *File) checkField(i int) {
	if i < 0 || i >= len(f.fields) {
		panic(fmt.Sprintf("onefile: field %d out of range [0,%d)", i, len(f.fields)))
	}
}

// Int returns field i of the current line as an integer.
func (f *File) Int(i int) int64 {
	f.checkField(i)
	return f.fields[i].i
}

// Real returns field i of the current line as a real.
func (f *File) Real(i int) float64 {
	f.checkField(i)
	return f.fields[i].r
}

// Char returns field i of the current line as a character.
func (f *File) Char(i int) byte {
	f.checkField(i)
	return f.fields[i].c
}

// SetInt stages an integer value for field i of the next written line.
func (f *File) SetInt(i int, v int64) {
	f.checkField(i)
	f.fields[i].i = v
}

// SetReal stages a real value for field i of the next written line.
func (f *File) SetReal(i int, v float64) {
	f.checkField(i)
	f.fields[i].r = v
}

// SetChar stages a character value for field i of the next written line.
func (f *File) SetChar(i int, v byte) {
	f.checkField(i)
	f.fields[i].c = v
}

// Len returns the list length of the current line, or 0 if the line has no
// list field.
func (f *File) Len() int64 { return f.listLen }

// IsEmpty reports whether the current line's list is empty.
func (f *File) IsEmpty() bool { return f.listLen == 0 }

// String returns the current line's string payload. Valid only until the
// next line advance.
func (f *File) String() string { return string(f.listBytes) }

// StringAt returns entry i of the current line's string list.
func (f *File) StringAt(i int) string {
	if i < 0 || i >= len(f.listStrs) {
		panic(fmt.Sprintf("onefile: string list entry %d out of range [0,%d)", i, len(f.listStrs)))
	}
	return f.listStrs[i]
}

// Strings returns the current line's string list. Valid only until the next
// line advance.
func (f *File) Strings() []string { return f.listStrs }

// IntList returns the current line's integer list. Valid only until the
// next line advance.
func (f *File) IntList() []int64 { return f.listInts }

// RealList returns the current line's real list. Valid only until the next
// line advance.
func (f *File) RealList() []float64 { return f.listReals }

// DNAChar returns the current line's nucleotide payload as characters.
// Valid only until the next line advance.
func (f *File) DNAChar() []byte { return f.listBytes }

// DNA2Bit returns the current line's nucleotide payload packed four bases
// per byte. Valid only until the next line advance.
func (f *File) DNA2Bit() []byte { return f.list2bit }

// ReadComment returns the free-text annotation attached to the just-read
// line, or "" if there is none.
func (f *File) ReadComment() string { return f.comment }

// Close flushes writer state, finalizes the binary index for binary writes,
// and releases the file handle. It is idempotent, and an implicit close
// from a deferred call may ignore its error: close never leaves the handle
// in a partially-open state.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	var err error
	if f.mode == writing {
		if werr := f.finishWrite(); werr != nil {
			err = werr
		}
	}
	if cerr := f.f.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close %s: %w", f.path, cerr)
	}
	return err
}

func (f *File) bumpAccum(tag byte, listLen int64) {
	c, ok := f.accum[tag]
	if !ok {
		c = &Counts{}
		f.accum[tag] = c
	}
	c.add(listLen)
}

func (f *File) resetLine() {
	f.listLen = 0
	f.listBytes = nil
	f.listInts = nil
	f.listReals = nil
	f.listStrs = nil
	f.list2bit = nil
	f.comment = ""
}

// noteObject updates random-access bookkeeping after a line has been read.
func (f *File) noteObject(tag byte) {
	lt, ok := f.schema.Line(tag)
	if !ok || lt.Kind == schema.KindData {
		f.sinceObj++
		return
	}
	f.lastObj = tag
	f.objRead[tag]++
	f.sinceObj = 1
}
