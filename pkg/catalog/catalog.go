// Package catalog maintains a persisted inventory of the ONE files in a
// data directory: their types, schemas, and per-line-type statistics. The
// HTTP service and the CLI serve their listings from it.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pangenome/onecode/pkg/onefile"
)

// Entry describes one cataloged file.
type Entry struct {
	Name       string                    `json:"name"`
	Path       string                    `json:"path"`
	FileType   string                    `json:"file_type"`
	SubType    string                    `json:"sub_type,omitempty"`
	Binary     bool                      `json:"binary"`
	Schema     string                    `json:"schema"`
	Provenance []onefile.Provenance      `json:"provenance,omitempty"`
	Lines      map[string]onefile.Counts `json:"lines"`
	ScannedAt  time.Time                 `json:"scanned_at"`
}

// Catalog is the inventory over one data directory, persisted as JSON next
// to the files it describes.
type Catalog struct {
	DataDir  string            `json:"data_dir"`
	Files    map[string]*Entry `json:"files"`
	FilePath string            `json:"-"`
	Mu       sync.RWMutex      `json:"-"`
}

// New opens (or creates) the catalog for a data directory, loading any
// previously persisted state.
func New(dataDir string) (*Catalog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	c := &Catalog{
		DataDir:  dataDir,
		Files:    make(map[string]*Entry),
		FilePath: filepath.Join(dataDir, "catalog.json"),
	}
	if err := c.Load(); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return c, nil
}

func (c *Catalog) Load() error {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	data, err := os.ReadFile(c.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, c)
}

// Save persists the catalog to disk.
func (c *Catalog) Save() error {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.save()
}

// Assumes lock is held
func (c *Catalog) save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.FilePath, data, 0644)
}

// Refresh rescans the data directory, replacing the inventory with what is
// on disk now. Files that fail to open as ONE files are skipped; the error
// map reports them by name.
func (c *Catalog) Refresh() (map[string]error, error) {
	entries, err := os.ReadDir(c.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", c.DataDir, err)
	}

	files := make(map[string]*Entry)
	skipped := make(map[string]error)
	for _, de := range entries {
		if de.IsDir() || !isOneName(de.Name()) {
			continue
		}
		path := filepath.Join(c.DataDir, de.Name())
		entry, err := scanFile(path)
		if err != nil {
			skipped[de.Name()] = err
			continue
		}
		files[de.Name()] = entry
	}

	c.Mu.Lock()
	c.Files = files
	err = c.save()
	c.Mu.Unlock()
	if err != nil {
		return skipped, fmt.Errorf("failed to persist catalog: %w", err)
	}
	return skipped, nil
}

// isOneName recognizes the ONE naming convention: an extension whose first
// character is '1' (".1seq", ".1aln") or the bare ".one" suffix.
func isOneName(name string) bool {
	ext := filepath.Ext(name)
	if len(ext) > 1 && ext[1] == '1' {
		return true
	}
	return strings.EqualFold(ext, ".one")
}

// scanFile opens a file read-only and distills its catalog entry from the
// header and, for binary files, the footer statistics.
func scanFile(path string) (*Entry, error) {
	f, err := onefile.OpenRead(path, nil, "", 1)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entry := &Entry{
		Name:       filepath.Base(path),
		Path:       path,
		FileType:   f.FileType(),
		SubType:    f.SubType(),
		Binary:     f.Binary(),
		Schema:     f.Schema().Text(),
		Provenance: f.Provenance(),
		Lines:      make(map[string]onefile.Counts),
		ScannedAt:  time.Now().UTC(),
	}

	if !f.Binary() {
		// ASCII files carry no footer: statistics need a full pass.
		for {
			tag, err := f.ReadLine()
			if err != nil {
				return nil, err
			}
			if tag == 0 {
				break
			}
		}
	}
	for _, lt := range f.Schema().Lines() {
		counts, err := f.Stats(lt.Tag)
		if err != nil {
			return nil, err
		}
		if counts.Count > 0 {
			entry.Lines[string(lt.Tag)] = counts
		}
	}
	return entry, nil
}

// Get returns the entry for a cataloged file name.
func (c *Catalog) Get(name string) (*Entry, bool) {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	e, ok := c.Files[name]
	return e, ok
}

// List returns all entries sorted by file name.
func (c *Catalog) List() []*Entry {
	c.Mu.RLock()
	defer c.Mu.RUnlock()

	out := make([]*Entry, 0, len(c.Files))
	for _, e := range c.Files {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Open opens a cataloged file for reading.
func (c *Catalog) Open(name string) (*onefile.File, error) {
	e, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("file %q is not in the catalog", name)
	}
	return onefile.OpenRead(e.Path, nil, "", 1)
}
