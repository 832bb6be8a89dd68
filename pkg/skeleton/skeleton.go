// Package skeleton flattens the hierarchy of group, scaffold, contig, and
// gap records embedded in a ONE file into per-contig lookup maps. Contig
// IDs are 0-based and global: they increase in file order across every
// group, regardless of which group a traversal is restricted to.
package skeleton

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pangenome/onecode/pkg/onefile"
)

// Line tags of the skeleton hierarchy.
const (
	tagGroup    = 'g'
	tagScaffold = 'S'
	tagContig   = 'C'
	tagGap      = 'G'
	tagAln      = 'A'
	tagAlnEnd   = 'a'
)

// Span locates a contig inside its scaffold: the offset of its first base
// and its length.
type Span struct {
	Begin int64 `json:"begin"`
	Len   int64 `json:"len"`
}

// Contig is everything the scan derives for one global contig ID.
type Contig struct {
	// Name of the owning scaffold, trimmed at the first whitespace of the
	// scaffold line's free-text payload.
	Name string `json:"name"`
	// ScaffoldLen is the owning scaffold's total length: contigs plus gaps.
	ScaffoldLen int64 `json:"scaffold_len"`
	Span        Span  `json:"span"`
}

// Map is the flattened result of a scan, keyed by global contig ID.
type Map struct {
	contigs map[int64]Contig
}

// Get returns the record for a global contig ID.
func (m *Map) Get(id int64) (Contig, bool) {
	c, ok := m.contigs[id]
	return c, ok
}

// Count returns the number of contigs the scan produced.
func (m *Map) Count() int { return len(m.contigs) }

// IDs returns the global contig IDs in ascending order.
func (m *Map) IDs() []int64 {
	out := make([]int64, 0, len(m.contigs))
	for id := range m.contigs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Names returns the scaffold name of each contig ID.
func (m *Map) Names() map[int64]string {
	out := make(map[int64]string, len(m.contigs))
	for id, c := range m.contigs {
		out[id] = c.Name
	}
	return out
}

// Lengths returns the owning scaffold's total length of each contig ID.
func (m *Map) Lengths() map[int64]int64 {
	out := make(map[int64]int64, len(m.contigs))
	for id, c := range m.contigs {
		out[id] = c.ScaffoldLen
	}
	return out
}

// Offsets returns the (scaffold begin offset, contig length) pair of each
// contig ID.
func (m *Map) Offsets() map[int64]Span {
	out := make(map[int64]Span, len(m.contigs))
	for id, c := range m.contigs {
		out[id] = c.Span
	}
	return out
}

// Option configures a scan.
type Option func(*config)

type config struct {
	strict bool
}

// Strict makes the scan surface a cursor-restoration failure as an error
// instead of silently leaving the cursor where the scan ended.
func Strict() Option {
	return func(c *config) { c.strict = true }
}

// ScanAll traverses every group in the file and returns the combined maps.
// A file with no group sections yields empty maps. The engine cursor is
// restored to its pre-call position on a best-effort basis: exact when the
// file supports Goto, otherwise the stream is consumed.
func ScanAll(f *onefile.File, opts ...Option) (*Map, error) {
	return run(f, scanAll, opts)
}

// ScanGroup traverses only the group-th group section (1-based). The
// global contig IDs it reports account for every contig in the preceding
// groups, computed by a counting pre-pass. An out-of-range group yields
// empty maps, not an error.
func ScanGroup(f *onefile.File, group int64, opts ...Option) (*Map, error) {
	if group < 1 {
		return &Map{contigs: map[int64]Contig{}}, nil
	}
	return run(f, func(f *onefile.File, m *Map) error {
		return scanGroup(f, group, m)
	}, opts)
}

func run(f *onefile.File, scan func(*onefile.File, *Map) error, opts []Option) (*Map, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	saved := f.Position()
	m := &Map{contigs: map[int64]Contig{}}
	if err := scan(f, m); err != nil {
		return nil, err
	}

	if err := f.Restore(saved); err != nil && cfg.strict {
		return nil, fmt.Errorf("failed to restore cursor after scan: %w", err)
	}
	return m, nil
}

func scanAll(f *onefile.File, m *Map) error {
	if f.Schema().HasGroups() {
		if err := f.Goto(tagGroup, 1); err != nil {
			return nonFatalGoto(err)
		}
		return traverse(f, 0, false, false, m)
	}
	// Standalone skeleton file: scaffolds at top level, flat pass from the
	// start of data.
	if err := f.Goto(0, 0); err != nil && !errors.Is(err, onefile.ErrNoIndex) {
		return err
	}
	return traverse(f, 0, false, false, m)
}

func scanGroup(f *onefile.File, group int64, m *Map) error {
	if !f.Schema().HasGroups() {
		// No group wrapper: only "group 1" exists.
		if group != 1 {
			return nil
		}
		return scanAll(f, m)
	}

	if err := f.Goto(tagGroup, 1); err != nil {
		return nonFatalGoto(err)
	}

	// Pre-pass: walk from the first group to the target's opening line,
	// counting the contigs of every group in between so the target group's
	// contigs carry their true global IDs. Running out of input before the
	// target means an out-of-range group: nothing to report.
	startID := int64(0)
	seen := int64(0)
	for seen < group {
		tag, err := f.ReadLine()
		if err != nil {
			return err
		}
		switch tag {
		case 0, tagAln, tagAlnEnd:
			return nil
		case tagGroup:
			seen++
		case tagContig:
			startID++
		}
	}
	return traverse(f, startID, true, true, m)
}

// nonFatalGoto swallows the errors that mean "nothing to scan": an
// out-of-range first group. Anything else is a real failure.
func nonFatalGoto(err error) error {
	var r *onefile.RangeError
	if errors.As(err, &r) || errors.Is(err, onefile.ErrNoIndex) {
		return nil
	}
	return err
}

// scanState is the traversal position within the record hierarchy.
type scanState int

const (
	beforeFirstLine scanState = iota
	inScaffold
	scanDone
)

// traverse drives the state machine. startID seeds the global contig
// counter; singleGroup stops the walk at the next group boundary; opened
// means the target group's own opening line was already consumed by the
// caller, so the walk starts inside the group.
func traverse(f *onefile.File, startID int64, singleGroup, opened bool, m *Map) error {
	state := beforeFirstLine
	if opened {
		state = inScaffold
	}
	id := startID

	var name string
	var spos, slen int64 // scaffold position and length accumulators
	var pending []int64  // contig IDs awaiting the scaffold length commit

	commitScaffold := func() {
		for _, cid := range pending {
			c := m.contigs[cid]
			c.Name = name
			c.ScaffoldLen = slen
			m.contigs[cid] = c
		}
		pending = pending[:0]
	}

	for state != scanDone {
		tag, err := f.ReadLine()
		if err != nil {
			return err
		}
		switch tag {
		case 0, tagAln, tagAlnEnd:
			commitScaffold()
			state = scanDone

		case tagGroup:
			if state == beforeFirstLine {
				// The opening line of the group we were positioned at.
				state = inScaffold
				continue
			}
			commitScaffold()
			if singleGroup {
				state = scanDone
				continue
			}
			// Next group: scaffold accumulators reset, the global contig
			// counter does not.
			spos, slen = 0, 0
			name = ""

		case tagScaffold:
			commitScaffold()
			name = scaffoldName(f.String())
			spos, slen = 0, 0
			state = inScaffold

		case tagGap:
			gap := f.Int(0)
			spos += gap
			slen += gap

		case tagContig:
			clen := f.Int(0)
			m.contigs[id] = Contig{Span: Span{Begin: spos, Len: clen}}
			pending = append(pending, id)
			id++
			spos += clen
			slen += clen

		default:
			// Masking and other auxiliary records pass through.
		}
		if state == beforeFirstLine {
			state = inScaffold
		}
	}
	return nil
}

// scaffoldName trims a scaffold line's payload at the first whitespace,
// stripping any free-text description.
func scaffoldName(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}
