package onefile

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pangenome/onecode/pkg/schema"
)

// lineScanner walks one ASCII line positionally. Header strings and string
// payloads are length-prefixed and may contain spaces, so field parsing
// cannot simply split on whitespace.
type lineScanner struct {
	s   string
	pos int
}

func (ls *lineScanner) space() error {
	if ls.pos >= len(ls.s) || ls.s[ls.pos] != ' ' {
		return fmt.Errorf("expected space at column %d of %q", ls.pos, ls.s)
	}
	ls.pos++
	return nil
}

// token reads up to the next space or end of line.
func (ls *lineScanner) token() (string, error) {
	if err := ls.space(); err != nil {
		return "", err
	}
	start := ls.pos
	for ls.pos < len(ls.s) && ls.s[ls.pos] != ' ' {
		ls.pos++
	}
	if ls.pos == start {
		return "", fmt.Errorf("empty token at column %d of %q", start, ls.s)
	}
	return ls.s[start:ls.pos], nil
}

func (ls *lineScanner) int() (int64, error) {
	tok, err := ls.token()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad integer %q: %w", tok, err)
	}
	return v, nil
}

func (ls *lineScanner) real() (float64, error) {
	tok, err := ls.token()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, fmt.Errorf("bad real %q: %w", tok, err)
	}
	return v, nil
}

// take consumes exactly n raw bytes after a separating space. A length of
// zero consumes nothing: empty payloads are written without a separator.
func (ls *lineScanner) take(n int64) (string, error) {
	if n == 0 {
		return "", nil
	}
	if err := ls.space(); err != nil {
		return "", err
	}
	if int64(len(ls.s)-ls.pos) < n {
		return "", fmt.Errorf("line too short: need %d bytes at column %d of %q", n, ls.pos, ls.s)
	}
	out := ls.s[ls.pos : ls.pos+int(n)]
	ls.pos += int(n)
	return out, nil
}

// lenString reads a length-prefixed string: "<len> <chars>".
func (ls *lineScanner) lenString() (string, error) {
	n, err := ls.int()
	if err != nil {
		return "", err
	}
	return ls.take(n)
}

// rest returns whatever remains, including any leading space.
func (ls *lineScanner) rest() string { return ls.s[ls.pos:] }

// nextASCIILine returns the next raw line, consulting the lookahead stashed
// during header parsing first. io.EOF signals end of input.
func (f *File) nextASCIILine() (string, error) {
	if len(f.pending) > 0 {
		line := f.pending[0]
		f.pending = f.pending[1:]
		return line, nil
	}
	line, err := f.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}

// readASCIIHeader parses header lines (type declaration, embedded schema,
// provenance, references) up to the first data line, which is kept as
// lookahead for the first ReadLine.
func (f *File) readASCIIHeader() error {
	var schemaText strings.Builder
	declared := ""
	declaredSub := ""

	for {
		line, err := f.nextASCIILine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read header: %w", err)
		}
		if line == "" {
			continue
		}

		switch line[0] {
		case '1':
			ls := &lineScanner{s: line, pos: 1}
			if declared, err = ls.lenString(); err != nil {
				return fmt.Errorf("bad type declaration line: %w", err)
			}
			// Major and minor format version; accepted but unused.
			if _, err = ls.int(); err != nil {
				return fmt.Errorf("bad type declaration line: %w", err)
			}
			if _, err = ls.int(); err != nil {
				return fmt.Errorf("bad type declaration line: %w", err)
			}
		case '2':
			ls := &lineScanner{s: line, pos: 1}
			if declaredSub, err = ls.lenString(); err != nil {
				return fmt.Errorf("bad subtype line: %w", err)
			}
		case '~':
			if !strings.HasPrefix(line, "~ ") {
				return fmt.Errorf("bad schema line %q", line)
			}
			schemaText.WriteString(line[2:])
			schemaText.WriteByte('\n')
		case '!':
			ls := &lineScanner{s: line, pos: 1}
			var p Provenance
			for _, field := range []*string{&p.Program, &p.Version, &p.Command, &p.Date} {
				if *field, err = ls.lenString(); err != nil {
					return fmt.Errorf("bad provenance line: %w", err)
				}
			}
			f.prov = append(f.prov, p)
		case '<':
			ls := &lineScanner{s: line, pos: 1}
			var r Reference
			if r.Filename, err = ls.lenString(); err != nil {
				return fmt.Errorf("bad reference line: %w", err)
			}
			if r.Count, err = ls.int(); err != nil {
				return fmt.Errorf("bad reference line: %w", err)
			}
			f.refs = append(f.refs, r)
		default:
			// First data line: keep it for ReadLine.
			f.pending = append(f.pending, line)
			goto done
		}
	}
done:
	if declared == "" {
		return fmt.Errorf("missing type declaration line")
	}
	if schemaText.Len() > 0 {
		sch, err := schema.FromText(schemaText.String())
		if err != nil {
			return fmt.Errorf("embedded schema is invalid: %w", err)
		}
		f.schema = sch
	}
	f.primary = declared
	f.sub = declaredSub
	if f.schema != nil && f.schema.FileType() != declared {
		return fmt.Errorf("type declaration %q does not match embedded schema type %q", declared, f.schema.FileType())
	}
	return nil
}

// readASCIILine parses the next data line. Returns the tag, or 0 at end of
// input.
func (f *File) readASCIILine() (byte, error) {
	line, err := f.nextASCIILine()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read line: %w", err)
	}
	if line == "" {
		return f.readASCIILine()
	}

	tag := line[0]
	lt, ok := f.schema.Line(tag)
	if !ok {
		return 0, fmt.Errorf("unknown line type %q at line %d", tag, f.line+1)
	}

	f.resetLine()
	ls := &lineScanner{s: line, pos: 1}
	for i, ft := range lt.Fields {
		if i == lt.ListField {
			if err := f.readASCIIList(ls, ft); err != nil {
				return 0, fmt.Errorf("bad list field of %q: %w", tag, err)
			}
			continue
		}
		switch ft {
		case schema.Int:
			if f.fields[i].i, err = ls.int(); err != nil {
				return 0, fmt.Errorf("bad field %d of %q: %w", i, tag, err)
			}
		case schema.Real:
			if f.fields[i].r, err = ls.real(); err != nil {
				return 0, fmt.Errorf("bad field %d of %q: %w", i, tag, err)
			}
		case schema.Char:
			tok, err := ls.token()
			if err != nil || len(tok) != 1 {
				return 0, fmt.Errorf("bad char field %d of %q", i, tag)
			}
			f.fields[i].c = tok[0]
		}
	}

	if rest := ls.rest(); strings.HasPrefix(rest, " // ") {
		f.comment = rest[len(" // "):]
	}
	return tag, nil
}

func (f *File) readASCIIList(ls *lineScanner, ft schema.FieldType) error {
	n, err := ls.int()
	if err != nil {
		return err
	}
	f.listLen = n

	switch ft {
	case schema.IntList:
		f.listInts = make([]int64, n)
		for i := range f.listInts {
			if f.listInts[i], err = ls.int(); err != nil {
				return err
			}
		}
	case schema.RealList:
		f.listReals = make([]float64, n)
		for i := range f.listReals {
			if f.listReals[i], err = ls.real(); err != nil {
				return err
			}
		}
	case schema.String:
		s, err := ls.take(n)
		if err != nil {
			return err
		}
		f.listBytes = []byte(s)
	case schema.StringList:
		f.listStrs = make([]string, n)
		for i := range f.listStrs {
			if f.listStrs[i], err = ls.lenString(); err != nil {
				return err
			}
		}
	case schema.DNA:
		s, err := ls.take(n)
		if err != nil {
			return err
		}
		f.listBytes = []byte(s)
		f.list2bit = packDNARaw(f.listBytes)
	}
	return nil
}

// writeASCIIHeader emits the deferred textual header.
func (f *File) writeASCIIHeader() error {
	var b strings.Builder
	fmt.Fprintf(&b, "1 %d %s 1 0\n", len(f.primary), f.primary)
	if f.sub != "" {
		fmt.Fprintf(&b, "2 %d %s\n", len(f.sub), f.sub)
	}
	for _, line := range strings.Split(strings.TrimRight(f.schema.Text(), "\n"), "\n") {
		fmt.Fprintf(&b, "~ %s\n", line)
	}
	for _, p := range f.prov {
		fmt.Fprintf(&b, "! %d %s %d %s %d %s %d %s\n",
			len(p.Program), p.Program, len(p.Version), p.Version,
			len(p.Command), p.Command, len(p.Date), p.Date)
	}
	for _, r := range f.refs {
		fmt.Fprintf(&b, "< %d %s %d\n", len(r.Filename), r.Filename, r.Count)
	}

	n, err := f.w.WriteString(b.String())
	f.off += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	f.dataStart = f.off
	return nil
}

// encodeASCIIRecord renders the staged line as text into pendingRec. The
// newline is appended at flush time so a comment can still be attached.
func (f *File) encodeASCIIRecord(lt *schema.LineType, listLen int64, payload listPayload) error {
	var b bytes.Buffer
	b.WriteByte(lt.Tag)

	for i, ft := range lt.Fields {
		if i == lt.ListField {
			if err := appendASCIIList(&b, ft, listLen, payload); err != nil {
				return err
			}
			continue
		}
		switch ft {
		case schema.Int:
			fmt.Fprintf(&b, " %d", f.fields[i].i)
		case schema.Real:
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(f.fields[i].r, 'g', -1, 64))
		case schema.Char:
			b.WriteByte(' ')
			b.WriteByte(f.fields[i].c)
		}
	}

	f.pendingRec = b.Bytes()
	return nil
}

func appendASCIIList(b *bytes.Buffer, ft schema.FieldType, n int64, payload listPayload) error {
	fmt.Fprintf(b, " %d", n)
	switch ft {
	case schema.IntList:
		vals, err := payload.ints(n)
		if err != nil {
			return err
		}
		for _, v := range vals {
			fmt.Fprintf(b, " %d", v)
		}
	case schema.RealList:
		vals, err := payload.reals(n)
		if err != nil {
			return err
		}
		for _, v := range vals {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
	case schema.String, schema.DNA:
		raw, err := payload.bytes(n)
		if err != nil {
			return err
		}
		if n > 0 {
			b.WriteByte(' ')
			b.Write(raw)
		}
	case schema.StringList:
		vals, err := payload.strings(n)
		if err != nil {
			return err
		}
		for _, s := range vals {
			fmt.Fprintf(b, " %d", len(s))
			if len(s) > 0 {
				b.WriteByte(' ')
				b.WriteString(s)
			}
		}
	}
	return nil
}

// flushPendingASCII writes the buffered line of the previous WriteLine,
// appending its comment and the line terminator.
func (f *File) flushPendingASCII() error {
	if f.pendingRec == nil {
		return nil
	}
	var b bytes.Buffer
	b.Write(f.pendingRec)
	if f.comment != "" {
		b.WriteString(" // ")
		b.WriteString(f.comment)
	}
	b.WriteByte('\n')

	n, err := f.w.Write(b.Bytes())
	f.off += int64(n)
	f.pendingRec = nil
	f.comment = ""
	if err != nil {
		return fmt.Errorf("failed to write line: %w", err)
	}
	return nil
}
