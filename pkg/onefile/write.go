package onefile

import (
	"fmt"

	"github.com/pangenome/onecode/pkg/schema"
)

// listPayload normalizes the list argument of WriteLine. Accepted forms:
// nil (empty list), []int64, []float64, []byte, string, []string.
type listPayload struct {
	v any
}

func (p listPayload) ints(n int64) ([]int64, error) {
	if p.v == nil && n == 0 {
		return nil, nil
	}
	vals, ok := p.v.([]int64)
	if !ok {
		return nil, fmt.Errorf("list payload must be []int64, got %T", p.v)
	}
	if int64(len(vals)) != n {
		return nil, fmt.Errorf("list length %d does not match payload length %d", n, len(vals))
	}
	return vals, nil
}

func (p listPayload) reals(n int64) ([]float64, error) {
	if p.v == nil && n == 0 {
		return nil, nil
	}
	vals, ok := p.v.([]float64)
	if !ok {
		return nil, fmt.Errorf("list payload must be []float64, got %T", p.v)
	}
	if int64(len(vals)) != n {
		return nil, fmt.Errorf("list length %d does not match payload length %d", n, len(vals))
	}
	return vals, nil
}

func (p listPayload) bytes(n int64) ([]byte, error) {
	var b []byte
	switch v := p.v.(type) {
	case nil:
		if n == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("list length %d but no payload given", n)
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return nil, fmt.Errorf("list payload must be []byte or string, got %T", p.v)
	}
	if int64(len(b)) != n {
		return nil, fmt.Errorf("list length %d does not match payload length %d", n, len(b))
	}
	return b, nil
}

func (p listPayload) strings(n int64) ([]string, error) {
	if p.v == nil && n == 0 {
		return nil, nil
	}
	vals, ok := p.v.([]string)
	if !ok {
		return nil, fmt.Errorf("list payload must be []string, got %T", p.v)
	}
	if int64(len(vals)) != n {
		return nil, fmt.Errorf("list length %d does not match payload length %d", n, len(vals))
	}
	return vals, nil
}

// encode renders the payload into the raw binary form for its field type.
func (p listPayload) encode(ft schema.FieldType, n int64) ([]byte, error) {
	switch ft {
	case schema.IntList:
		vals, err := p.ints(n)
		if err != nil {
			return nil, err
		}
		return encodeIntListRaw(vals), nil
	case schema.RealList:
		vals, err := p.reals(n)
		if err != nil {
			return nil, err
		}
		return encodeRealListRaw(vals), nil
	case schema.String:
		return p.bytes(n)
	case schema.StringList:
		vals, err := p.strings(n)
		if err != nil {
			return nil, err
		}
		return encodeStringListRaw(vals), nil
	case schema.DNA:
		b, err := p.bytes(n)
		if err != nil {
			return nil, err
		}
		return packDNARaw(b), nil
	}
	return nil, fmt.Errorf("field type %v is not a list", ft)
}

// WriteLine encodes the staged fixed fields plus the supplied list payload
// as a new line of the given type. All fixed fields must have been staged
// via SetInt/SetReal/SetChar before the call. listLen must match the
// payload length; pass nil for a line type without a list field.
func (f *File) WriteLine(tag byte, listLen int64, list any) error {
	if f.closed {
		return ErrClosed
	}
	if f.mode != writing {
		return fmt.Errorf("file %s is not open for writing", f.path)
	}
	lt, ok := f.schema.Line(tag)
	if !ok {
		return fmt.Errorf("unknown line type %q", tag)
	}
	if lt.ListField < 0 && listLen != 0 {
		return fmt.Errorf("line type %q has no list field", tag)
	}

	if err := f.flushPending(); err != nil {
		return err
	}
	if !f.headerDone {
		if err := f.writeHeader(); err != nil {
			return err
		}
		f.headerDone = true
	}

	if lt.Kind != schema.KindData && f.binary {
		f.index[tag] = append(f.index[tag], f.off)
	}

	payload := listPayload{list}
	var err error
	if f.binary {
		err = f.encodeBinaryRecord(lt, listLen, payload)
	} else {
		err = f.encodeASCIIRecord(lt, listLen, payload)
	}
	if err != nil {
		return fmt.Errorf("failed to write line %d (%q): %w", f.line+1, tag, err)
	}

	f.line++
	f.lineType = tag
	f.bumpAccum(tag, listLen)
	return nil
}

// WriteComment attaches a free-text annotation to the line most recently
// written. It returns false when there is no current line to annotate.
func (f *File) WriteComment(text string) bool {
	if f.closed || f.mode != writing || f.pendingRec == nil {
		return false
	}
	f.comment = text
	return true
}

// CopyLine writes the current line of a reading handle to this writing
// handle: fixed fields, list payload, and comment. Both handles must share
// the line type's layout (normally via OpenWriteFrom).
func (f *File) CopyLine(src *File) error {
	tag := src.LineType()
	lt, ok := f.schema.Line(tag)
	if !ok {
		return fmt.Errorf("unknown line type %q", tag)
	}
	for i := range lt.Fields {
		f.fields[i] = src.fields[i]
	}

	var list any
	if lt.ListField >= 0 {
		switch lt.Fields[lt.ListField] {
		case schema.IntList:
			list = src.IntList()
		case schema.RealList:
			list = src.RealList()
		case schema.String, schema.DNA:
			list = src.listBytes
		case schema.StringList:
			list = src.Strings()
		}
	}
	if err := f.WriteLine(tag, src.Len(), list); err != nil {
		return err
	}
	if c := src.ReadComment(); c != "" {
		f.WriteComment(c)
	}
	return nil
}

func (f *File) writeHeader() error {
	if f.binary {
		return f.writeBinaryHeader()
	}
	return f.writeASCIIHeader()
}

func (f *File) flushPending() error {
	if f.binary {
		return f.flushPendingBinary()
	}
	return f.flushPendingASCII()
}

// finishWrite completes the output file at close: the header if no data was
// ever written, the last pending record, and for binary files the footer.
func (f *File) finishWrite() error {
	if !f.headerDone {
		if err := f.writeHeader(); err != nil {
			return err
		}
		f.headerDone = true
	}
	if err := f.flushPending(); err != nil {
		return err
	}
	if f.binary {
		if err := f.writeFooter(); err != nil {
			return err
		}
	}
	if err := f.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", f.path, err)
	}
	return nil
}
