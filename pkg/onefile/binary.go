package onefile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pangenome/onecode/pkg/codec"
	"github.com/pangenome/onecode/pkg/schema"
)

// headerReader counts the bytes the header parser consumes so the start of
// the data section can be recorded.
type headerReader struct {
	r *bufio.Reader
	n int64
}

func (h *headerReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	h.n += int64(n)
	return n, err
}

func (h *headerReader) ReadByte() (byte, error) {
	b, err := h.r.ReadByte()
	if err == nil {
		h.n++
	}
	return b, err
}

// readBinaryHeader parses the header block, loads the footer (statistics
// and object index), and leaves the reader positioned at the start of data.
func (f *File) readBinaryHeader() error {
	hr := &headerReader{r: f.r}

	magic := make([]byte, len(BeginMagic))
	if _, err := io.ReadFull(hr, magic); err != nil {
		return fmt.Errorf("failed to read magic: %w", err)
	}
	if string(magic) != BeginMagic {
		return fmt.Errorf("invalid magic: expected %q, got %q", BeginMagic, magic)
	}

	var err error
	if f.primary, err = codec.ReadString(hr); err != nil {
		return fmt.Errorf("failed to read file type: %w", err)
	}
	if f.sub, err = codec.ReadString(hr); err != nil {
		return fmt.Errorf("failed to read subtype: %w", err)
	}
	schemaText, err := codec.ReadString(hr)
	if err != nil {
		return fmt.Errorf("failed to read embedded schema: %w", err)
	}
	if f.schema, err = schema.FromText(schemaText); err != nil {
		return fmt.Errorf("embedded schema is invalid: %w", err)
	}

	nProv, err := codec.ReadUvarint(hr)
	if err != nil {
		return fmt.Errorf("failed to read provenance count: %w", err)
	}
	for i := uint64(0); i < nProv; i++ {
		var p Provenance
		for _, field := range []*string{&p.Program, &p.Version, &p.Command, &p.Date} {
			if *field, err = codec.ReadString(hr); err != nil {
				return fmt.Errorf("failed to read provenance entry %d: %w", i, err)
			}
		}
		f.prov = append(f.prov, p)
	}

	nRef, err := codec.ReadUvarint(hr)
	if err != nil {
		return fmt.Errorf("failed to read reference count: %w", err)
	}
	for i := uint64(0); i < nRef; i++ {
		var r Reference
		if r.Filename, err = codec.ReadString(hr); err != nil {
			return fmt.Errorf("failed to read reference entry %d: %w", i, err)
		}
		if r.Count, err = codec.ReadVarint(hr); err != nil {
			return fmt.Errorf("failed to read reference entry %d: %w", i, err)
		}
		f.refs = append(f.refs, r)
	}

	f.dataStart = hr.n
	if err := f.readFooter(); err != nil {
		return err
	}

	// Back to the start of data for sequential reading.
	if _, err := f.f.Seek(f.dataStart, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to data section: %w", err)
	}
	f.r.Reset(f.f)
	return nil
}

func (f *File) readFooter() error {
	fi, err := f.f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	tail := fi.Size() - int64(len(EndMagic)) - 8
	if tail < f.dataStart {
		return errors.New("file is too short to carry a footer")
	}

	if _, err := f.f.Seek(tail, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to footer offset: %w", err)
	}
	var raw [12]byte
	if _, err := io.ReadFull(f.f, raw[:]); err != nil {
		return fmt.Errorf("failed to read footer trailer: %w", err)
	}
	if string(raw[8:]) != EndMagic {
		return fmt.Errorf("invalid end magic: expected %q, got %q", EndMagic, raw[8:])
	}
	footerOff := int64(binary.LittleEndian.Uint64(raw[:8]))
	if footerOff < f.dataStart || footerOff >= tail {
		return fmt.Errorf("invalid footer offset %d", footerOff)
	}
	f.dataEnd = footerOff

	if _, err := f.f.Seek(footerOff, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek to footer: %w", err)
	}
	fr := bufio.NewReader(f.f)

	nStats, err := codec.ReadUvarint(fr)
	if err != nil {
		return fmt.Errorf("failed to read stats count: %w", err)
	}
	f.given = make(map[byte]*Counts, nStats)
	for i := uint64(0); i < nStats; i++ {
		tag, err := fr.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read stats tag: %w", err)
		}
		c := &Counts{}
		if c.Count, err = codec.ReadVarint(fr); err != nil {
			return fmt.Errorf("failed to read stats for %q: %w", tag, err)
		}
		if c.Max, err = codec.ReadVarint(fr); err != nil {
			return fmt.Errorf("failed to read stats for %q: %w", tag, err)
		}
		if c.Total, err = codec.ReadVarint(fr); err != nil {
			return fmt.Errorf("failed to read stats for %q: %w", tag, err)
		}
		f.given[tag] = c
	}

	nIdx, err := codec.ReadUvarint(fr)
	if err != nil {
		return fmt.Errorf("failed to read index count: %w", err)
	}
	f.index = make(map[byte][]int64, nIdx)
	for i := uint64(0); i < nIdx; i++ {
		tag, err := fr.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read index tag: %w", err)
		}
		n, err := codec.ReadUvarint(fr)
		if err != nil {
			return fmt.Errorf("failed to read index length for %q: %w", tag, err)
		}
		offsets := make([]int64, n)
		var prev int64
		for j := range offsets {
			delta, err := codec.ReadUvarint(fr)
			if err != nil {
				return fmt.Errorf("failed to read index entry for %q: %w", tag, err)
			}
			prev += int64(delta)
			offsets[j] = prev
		}
		f.index[tag] = offsets
	}
	return nil
}

// writeBinaryHeader emits the deferred header block: magic, types, schema
// text, provenance and references.
func (f *File) writeBinaryHeader() error {
	var buf bytes.Buffer
	buf.WriteString(BeginMagic)
	codec.WriteString(&buf, f.primary)
	codec.WriteString(&buf, f.sub)
	codec.WriteString(&buf, f.schema.Text())

	codec.WriteUvarint(&buf, uint64(len(f.prov)))
	for _, p := range f.prov {
		codec.WriteString(&buf, p.Program)
		codec.WriteString(&buf, p.Version)
		codec.WriteString(&buf, p.Command)
		codec.WriteString(&buf, p.Date)
	}
	codec.WriteUvarint(&buf, uint64(len(f.refs)))
	for _, r := range f.refs {
		codec.WriteString(&buf, r.Filename)
		codec.WriteVarint(&buf, r.Count)
	}

	n, err := f.w.Write(buf.Bytes())
	f.off += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	f.dataStart = f.off
	return nil
}

// encodeBinaryRecord encodes the staged fields and list payload of one line
// into pendingRec. The comment frame is appended at flush time so a comment
// can still be attached to the current line.
func (f *File) encodeBinaryRecord(lt *schema.LineType, listLen int64, payload listPayload) error {
	var buf bytes.Buffer
	buf.WriteByte(lt.Tag)

	for i, ft := range lt.Fields {
		if i == lt.ListField {
			continue
		}
		switch ft {
		case schema.Int:
			codec.WriteVarint(&buf, f.fields[i].i)
		case schema.Real:
			codec.WriteReal(&buf, f.fields[i].r)
		case schema.Char:
			buf.WriteByte(f.fields[i].c)
		}
	}

	if lt.ListField >= 0 {
		raw, err := payload.encode(lt.Fields[lt.ListField], listLen)
		if err != nil {
			return err
		}
		codec.WriteUvarint(&buf, uint64(listLen))
		if len(raw) > compressFloor {
			packed := codec.Compress(raw)
			buf.WriteByte(listZstd)
			codec.WriteUvarint(&buf, uint64(len(packed)))
			buf.Write(packed)
		} else {
			buf.WriteByte(listRaw)
			codec.WriteUvarint(&buf, uint64(len(raw)))
			buf.Write(raw)
		}
	}

	f.pendingRec = buf.Bytes()
	return nil
}

// flushPending writes the buffered record of the previous WriteLine plus
// its comment frame.
func (f *File) flushPendingBinary() error {
	if f.pendingRec == nil {
		return nil
	}
	var buf bytes.Buffer
	buf.Write(f.pendingRec)
	codec.WriteUvarint(&buf, uint64(len(f.comment)))
	buf.WriteString(f.comment)

	n, err := f.w.Write(buf.Bytes())
	f.off += int64(n)
	f.pendingRec = nil
	f.comment = ""
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// readBinaryLine decodes the next record. Returns the tag, or 0 at the end
// of the data section.
func (f *File) readBinaryLine() (byte, error) {
	if f.dataEnd > 0 {
		if pos, err := f.f.Seek(0, io.SeekCurrent); err == nil {
			if pos-int64(f.r.Buffered()) >= f.dataEnd {
				return 0, nil
			}
		}
	}

	tag, err := f.r.ReadByte()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read record tag: %w", err)
	}
	lt, ok := f.schema.Line(tag)
	if !ok {
		return 0, fmt.Errorf("unknown line type %q at line %d", tag, f.line+1)
	}

	f.resetLine()
	for i, ft := range lt.Fields {
		if i == lt.ListField {
			continue
		}
		switch ft {
		case schema.Int:
			if f.fields[i].i, err = codec.ReadVarint(f.r); err != nil {
				return 0, fmt.Errorf("failed to read field %d of %q: %w", i, tag, err)
			}
		case schema.Real:
			if f.fields[i].r, err = codec.ReadReal(f.r); err != nil {
				return 0, fmt.Errorf("failed to read field %d of %q: %w", i, tag, err)
			}
		case schema.Char:
			if f.fields[i].c, err = f.r.ReadByte(); err != nil {
				return 0, fmt.Errorf("failed to read field %d of %q: %w", i, tag, err)
			}
		}
	}

	if lt.ListField >= 0 {
		if err := f.readBinaryList(lt); err != nil {
			return 0, err
		}
	}

	nc, err := codec.ReadUvarint(f.r)
	if err != nil {
		return 0, fmt.Errorf("failed to read comment frame of %q: %w", tag, err)
	}
	if nc > 0 {
		c := make([]byte, nc)
		if _, err := io.ReadFull(f.r, c); err != nil {
			return 0, fmt.Errorf("failed to read comment of %q: %w", tag, err)
		}
		f.comment = string(c)
	}
	return tag, nil
}

func (f *File) readBinaryList(lt *schema.LineType) error {
	n, err := codec.ReadUvarint(f.r)
	if err != nil {
		return fmt.Errorf("failed to read list length of %q: %w", lt.Tag, err)
	}
	f.listLen = int64(n)

	kind, err := f.r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read list codec of %q: %w", lt.Tag, err)
	}
	rawLen, err := codec.ReadUvarint(f.r)
	if err != nil {
		return fmt.Errorf("failed to read list payload length of %q: %w", lt.Tag, err)
	}
	raw := make([]byte, rawLen)
	if _, err := io.ReadFull(f.r, raw); err != nil {
		return fmt.Errorf("failed to read list payload of %q: %w", lt.Tag, err)
	}
	if kind == listZstd {
		if raw, err = codec.Decompress(raw); err != nil {
			return fmt.Errorf("failed to decompress list payload of %q: %w", lt.Tag, err)
		}
	}

	br := bytes.NewReader(raw)
	switch lt.Fields[lt.ListField] {
	case schema.IntList:
		if f.listInts, err = codec.DecodeIntList(br, f.listLen); err != nil {
			return err
		}
	case schema.RealList:
		if f.listReals, err = codec.DecodeRealList(br, f.listLen); err != nil {
			return err
		}
	case schema.String:
		f.listBytes = raw
	case schema.StringList:
		f.listStrs = make([]string, f.listLen)
		for i := range f.listStrs {
			if f.listStrs[i], err = codec.ReadString(br); err != nil {
				return fmt.Errorf("failed to read string list entry %d of %q: %w", i, lt.Tag, err)
			}
		}
	case schema.DNA:
		f.list2bit = raw
		f.listBytes = codec.UnpackDNA(raw, f.listLen)
	}
	return nil
}

func encodeIntListRaw(vals []int64) []byte { return codec.EncodeIntList(vals) }

func encodeRealListRaw(vals []float64) []byte { return codec.EncodeRealList(vals) }

func encodeStringListRaw(vals []string) []byte {
	var buf bytes.Buffer
	for _, s := range vals {
		codec.WriteString(&buf, s)
	}
	return buf.Bytes()
}

func packDNARaw(seq []byte) []byte { return codec.PackDNA(seq) }

// writeFooter emits statistics and the object index, then the footer offset
// and end magic.
func (f *File) writeFooter() error {
	footerOff := f.off

	var buf bytes.Buffer
	codec.WriteUvarint(&buf, uint64(len(f.accum)))
	for _, lt := range f.schema.Lines() {
		c, ok := f.accum[lt.Tag]
		if !ok {
			continue
		}
		buf.WriteByte(lt.Tag)
		codec.WriteVarint(&buf, c.Count)
		codec.WriteVarint(&buf, c.Max)
		codec.WriteVarint(&buf, c.Total)
	}

	indexed := 0
	for _, offs := range f.index {
		if len(offs) > 0 {
			indexed++
		}
	}
	codec.WriteUvarint(&buf, uint64(indexed))
	for _, lt := range f.schema.Lines() {
		offs := f.index[lt.Tag]
		if len(offs) == 0 {
			continue
		}
		buf.WriteByte(lt.Tag)
		codec.WriteUvarint(&buf, uint64(len(offs)))
		var prev int64
		for _, off := range offs {
			codec.WriteUvarint(&buf, uint64(off-prev))
			prev = off
		}
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], uint64(footerOff))
	buf.Write(trailer[:])
	buf.WriteString(EndMagic)

	if _, err := f.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write footer: %w", err)
	}
	return nil
}
