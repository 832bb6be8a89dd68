package onefile

import (
	"fmt"
	"io"

	"github.com/pangenome/onecode/pkg/schema"
)

// ReadLine advances the cursor to the next line, decoding its fixed fields
// and list payload into engine-owned current-record state and updating the
// per-type accumulator. It returns the line's tag, or 0 at end of input.
// List buffers obtained from accessors are invalidated by this call.
func (f *File) ReadLine() (byte, error) {
	if f.closed {
		return 0, ErrClosed
	}
	if f.mode != reading {
		return 0, fmt.Errorf("file %s is not open for reading", f.path)
	}

	var tag byte
	var err error
	if f.binary {
		tag, err = f.readBinaryLine()
	} else {
		tag, err = f.readASCIILine()
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read line %d of %s: %w", f.line+1, f.path, err)
	}
	if tag == 0 {
		f.lineType = 0
		return 0, nil
	}

	f.line++
	f.lineType = tag
	f.bumpAccum(tag, f.listLen)
	f.noteObject(tag)
	return tag, nil
}

// Goto repositions the cursor so the next ReadLine decodes the index-th
// object (1-based) of the given type. Index 0 seeks to the start of the
// data section. Random access requires the binary encoding; ASCII files
// fail with ErrNoIndex.
func (f *File) Goto(tag byte, index int64) error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != reading || !f.binary {
		return fmt.Errorf("failed to goto object %d of type %q: %w", index, tag, ErrNoIndex)
	}

	if index == 0 {
		return f.seekData(f.dataStart)
	}

	offsets, ok := f.index[tag]
	if !ok {
		lt, known := f.schema.Line(tag)
		if !known || lt.Kind == schema.KindData {
			return fmt.Errorf("failed to goto object %d of type %q: type is not indexed", index, tag)
		}
		// An indexed kind the file holds no objects of: out of range, same
		// as an index past the last object.
		return fmt.Errorf("failed to goto object of type %q: %w", tag,
			&RangeError{What: "object", Index: index, Limit: 0})
	}
	if index < 1 || index > int64(len(offsets)) {
		return fmt.Errorf("failed to goto object of type %q: %w", tag,
			&RangeError{What: "object", Index: index, Limit: int64(len(offsets))})
	}
	if err := f.seekData(offsets[index-1]); err != nil {
		return err
	}
	f.lastObj = tag
	f.objRead[tag] = index - 1
	f.sinceObj = -1
	return nil
}

// seekData positions the raw file, then resets the buffered reader so any
// stale buffered bytes from the previous position are discarded. The reset
// is as essential as the seek: the next ReadLine must decode from the new
// offset, not from leftover buffer content.
func (f *File) seekData(off int64) error {
	if _, err := f.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek %s to offset %d: %w", f.path, off, err)
	}
	f.r.Reset(f.f)
	f.resetLine()
	f.lineType = 0
	if off == f.dataStart {
		f.lastObj = 0
		f.sinceObj = 0
		for tag := range f.objRead {
			f.objRead[tag] = 0
		}
		// Replayed lines must not double into the accumulator.
		f.accum = make(map[byte]*Counts)
	}
	return nil
}

// Pos identifies a cursor position by the last indexed object read plus
// the number of lines read since that object's line. It is the currency of
// position save/restore for scans that must leave the cursor where they
// found it.
type Pos struct {
	tag     byte
	ordinal int64
	skip    int64
}

// Position captures the current cursor position. Meaningful only on files
// that support Goto; on other files restoration is impossible and the
// stream must be treated as consumed by whoever moves the cursor.
func (f *File) Position() Pos {
	return Pos{tag: f.lastObj, ordinal: f.objRead[f.lastObj], skip: f.sinceObj}
}

// Restore repositions the cursor to a previously captured position, so the
// next ReadLine yields the same line it would have yielded there. Data
// lines between the anchoring object and the captured position are re-read
// to land exactly.
func (f *File) Restore(p Pos) error {
	if p.skip < 0 {
		// Captured right after a Goto, before the object's line was read.
		return f.Goto(p.tag, p.ordinal+1)
	}
	var err error
	if p.tag == 0 {
		err = f.Goto(0, 0)
	} else {
		err = f.Goto(p.tag, p.ordinal)
	}
	if err != nil {
		return err
	}
	for i := int64(0); i < p.skip; i++ {
		if _, err := f.ReadLine(); err != nil {
			return err
		}
	}
	return nil
}
