package onefile

// Provenance records one step of the processing chain that produced a file.
type Provenance struct {
	Program string `json:"program"`
	Version string `json:"version"`
	Command string `json:"command"`
	Date    string `json:"date"`
}

// Reference names an input file a ONE file was derived from.
type Reference struct {
	Filename string `json:"filename"`
	Count    int64  `json:"count"`
}

// Counts accumulates per-line-type statistics: the number of lines of the
// type, the maximum list length among them, and the sum of list lengths.
type Counts struct {
	Count int64 `json:"count"`
	Max   int64 `json:"max"`
	Total int64 `json:"total"`
}

func (c *Counts) add(listLen int64) {
	c.Count++
	if listLen > c.Max {
		c.Max = listLen
	}
	c.Total += listLen
}

// fieldValue is one staged/decoded scalar field slot of the current line.
type fieldValue struct {
	i int64
	r float64
	c byte
}

type mode int

const (
	reading mode = iota
	writing
)

// File format constants

const (
	// BeginMagic opens a binary ONE file. The final byte is the binary
	// format generation.
	BeginMagic = "ONE\x02"
	// EndMagic closes a binary ONE file, preceded by the 8-byte footer
	// offset.
	EndMagic = "EndO"
)

// compressFloor is the encoded payload size above which binary list
// payloads are stored zstd-compressed.
const compressFloor = 64

const (
	listRaw  byte = 0
	listZstd byte = 1
)
