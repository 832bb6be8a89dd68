package schema

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FieldType identifies the wire type of a single field within a line.
type FieldType int

const (
	Int FieldType = iota
	Real
	Char
	String
	IntList
	RealList
	StringList
	DNA
)

var fieldTypeNames = map[FieldType]string{
	Int:        "INT",
	Real:       "REAL",
	Char:       "CHAR",
	String:     "STRING",
	IntList:    "INT_LIST",
	RealList:   "REAL_LIST",
	StringList: "STRING_LIST",
	DNA:        "DNA",
}

func (t FieldType) String() string {
	if s, ok := fieldTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// IsList reports whether the field carries a variable-length payload whose
// length is stored out-of-band per line.
func (t FieldType) IsList() bool {
	switch t {
	case String, IntList, RealList, StringList, DNA:
		return true
	}
	return false
}

func parseFieldType(tok string) (FieldType, bool) {
	for t, name := range fieldTypeNames {
		if name == tok {
			return t, true
		}
	}
	return 0, false
}

// LineKind distinguishes how a line type participates in the record stream.
type LineKind int

const (
	// KindData is a plain line carrying fields of the enclosing object.
	KindData LineKind = iota
	// KindObject starts a new top-level logical record.
	KindObject
	// KindGroup starts a nested collection of objects.
	KindGroup
)

// LineType describes one line tag: its kind and ordered field layout.
// At most one field is a list type, and it is always the last field.
type LineType struct {
	Tag    byte
	Kind   LineKind
	Fields []FieldType
	// ListField is the index of the list field, or -1 if the line has none.
	ListField int
}

// Schema is an immutable description of a ONE file's line types. It is built
// once by FromText or FromFile and shared by reference between a source file
// and any file opened from it.
type Schema struct {
	fileType  string
	subType   string
	lines     map[byte]*LineType
	order     []byte
	maxFields int
	text      string
}

// Error reports a malformed schema definition.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("schema: line %d: %s", e.Line, e.Msg)
	}
	return "schema: " + e.Msg
}

func errf(line int, format string, args ...any) error {
	return &Error{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// FromFile builds a schema from a definition file.
func FromFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("failed to read schema file %s: %v", path, err)}
	}
	return FromText(string(data))
}

// FromText builds a schema from its text definition. The grammar is
// line-oriented: a P line naming the primary type, an optional S subtype
// line, then O/G/D lines declaring object, group and data line types with
// their field layouts.
func FromText(text string) (*Schema, error) {
	s := &Schema{lines: make(map[byte]*LineType)}

	lineNo := 0
	for _, raw := range strings.Split(text, "\n") {
		lineNo++
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		toks := strings.Fields(line)

		switch toks[0] {
		case "P":
			if s.fileType != "" {
				return nil, errf(lineNo, "duplicate P line")
			}
			name, err := lenPrefixed(toks[1:], lineNo)
			if err != nil {
				return nil, err
			}
			s.fileType = name
		case "S":
			if s.subType != "" {
				return nil, errf(lineNo, "duplicate S line")
			}
			name, err := lenPrefixed(toks[1:], lineNo)
			if err != nil {
				return nil, err
			}
			s.subType = name
		case "O", "G", "D":
			if s.fileType == "" {
				return nil, errf(lineNo, "line type declared before P line")
			}
			lt, err := parseLineType(toks, lineNo)
			if err != nil {
				return nil, err
			}
			if _, dup := s.lines[lt.Tag]; dup {
				return nil, errf(lineNo, "duplicate line type tag %q", lt.Tag)
			}
			s.lines[lt.Tag] = lt
			s.order = append(s.order, lt.Tag)
			if n := len(lt.Fields); n > s.maxFields {
				s.maxFields = n
			}
		default:
			return nil, errf(lineNo, "unknown definition %q", toks[0])
		}
	}

	if s.fileType == "" {
		return nil, errf(0, "missing P line")
	}
	s.text = s.render()
	return s, nil
}

func parseLineType(toks []string, lineNo int) (*LineType, error) {
	kind := KindData
	switch toks[0] {
	case "O":
		kind = KindObject
	case "G":
		kind = KindGroup
	}
	if len(toks) < 3 {
		return nil, errf(lineNo, "truncated %s definition", toks[0])
	}
	if len(toks[1]) != 1 {
		return nil, errf(lineNo, "line tag must be a single character, got %q", toks[1])
	}
	tag := toks[1][0]
	n, err := strconv.Atoi(toks[2])
	if err != nil || n < 0 {
		return nil, errf(lineNo, "bad field count %q", toks[2])
	}
	if len(toks) != 3+2*n {
		return nil, errf(lineNo, "expected %d field specs, got %d tokens", n, len(toks)-3)
	}

	lt := &LineType{Tag: tag, Kind: kind, ListField: -1}
	for i := 0; i < n; i++ {
		name, err := lenPrefixed(toks[3+2*i:], lineNo)
		if err != nil {
			return nil, err
		}
		ft, ok := parseFieldType(name)
		if !ok {
			return nil, errf(lineNo, "unknown field type %q", name)
		}
		if ft.IsList() {
			if lt.ListField >= 0 {
				return nil, errf(lineNo, "line type %q has more than one list field", tag)
			}
			if i != n-1 {
				return nil, errf(lineNo, "list field of line type %q is not last", tag)
			}
			lt.ListField = i
		}
		lt.Fields = append(lt.Fields, ft)
	}
	return lt, nil
}

// lenPrefixed parses the ONE convention of writing a string as its length
// followed by its characters, e.g. "3 seq".
func lenPrefixed(toks []string, lineNo int) (string, error) {
	if len(toks) < 2 {
		return "", errf(lineNo, "truncated length-prefixed string")
	}
	n, err := strconv.Atoi(toks[0])
	if err != nil || n < 0 {
		return "", errf(lineNo, "bad string length %q", toks[0])
	}
	if len(toks[1]) != n {
		return "", errf(lineNo, "string %q does not match declared length %d", toks[1], n)
	}
	return toks[1], nil
}

// FileType returns the primary type name declared by the P line.
func (s *Schema) FileType() string { return s.fileType }

// SubType returns the secondary type name, or "" if none was declared.
func (s *Schema) SubType() string { return s.subType }

// Line looks up the definition for a tag.
func (s *Schema) Line(tag byte) (*LineType, bool) {
	lt, ok := s.lines[tag]
	return lt, ok
}

// Lines returns the line types in declaration order.
func (s *Schema) Lines() []*LineType {
	out := make([]*LineType, 0, len(s.order))
	for _, tag := range s.order {
		out = append(out, s.lines[tag])
	}
	return out
}

// MaxFields is the widest field count across all line types. File handles
// size their staged-field arrays with it.
func (s *Schema) MaxFields() int { return s.maxFields }

// HasGroups reports whether any line type is a group starter.
func (s *Schema) HasGroups() bool {
	for _, lt := range s.lines {
		if lt.Kind == KindGroup {
			return true
		}
	}
	return false
}

// Text returns the canonical text rendering of the schema, suitable for
// embedding in a file header and for re-parsing with FromText.
func (s *Schema) Text() string { return s.text }

func (s *Schema) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "P %d %s\n", len(s.fileType), s.fileType)
	if s.subType != "" {
		fmt.Fprintf(&b, "S %d %s\n", len(s.subType), s.subType)
	}
	for _, tag := range s.order {
		lt := s.lines[tag]
		kind := "D"
		switch lt.Kind {
		case KindObject:
			kind = "O"
		case KindGroup:
			kind = "G"
		}
		fmt.Fprintf(&b, "%s %c %d", kind, lt.Tag, len(lt.Fields))
		for _, ft := range lt.Fields {
			name := ft.String()
			fmt.Fprintf(&b, " %d %s", len(name), name)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
