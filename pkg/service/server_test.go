package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pangenome/onecode/pkg/catalog"
	"github.com/pangenome/onecode/pkg/onefile"
	"github.com/pangenome/onecode/pkg/schema"
	"github.com/pangenome/onecode/pkg/skeleton"
)

const alnSchemaText = `
P 3 aln
G g 0
O S 1 6 STRING
D C 1 3 INT
D G 1 3 INT
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()

	sch, err := schema.FromText(alnSchemaText)
	require.NoError(t, err)
	f, err := onefile.OpenWriteNew(filepath.Join(dir, "asm.1aln"), sch, "aln", true, 1)
	require.NoError(t, err)
	require.NoError(t, f.WriteLine('g', 0, nil))
	require.NoError(t, f.WriteLine('S', 4, "chr1"))
	f.SetInt(0, 120)
	require.NoError(t, f.WriteLine('C', 0, nil))
	f.SetInt(0, 30)
	require.NoError(t, f.WriteLine('G', 0, nil))
	f.SetInt(0, 50)
	require.NoError(t, f.WriteLine('C', 0, nil))
	require.NoError(t, f.Close())

	c, err := catalog.New(dir)
	require.NoError(t, err)
	_, err = c.Refresh()
	require.NoError(t, err)

	srv := httptest.NewServer(New(c, zerolog.Nop()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestListAndGetFile(t *testing.T) {
	srv := newTestServer(t)

	var list []catalog.Entry
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/files", &list))
	require.Len(t, list, 1)
	assert.Equal(t, "asm.1aln", list[0].Name)
	assert.Equal(t, "aln", list[0].FileType)

	var entry catalog.Entry
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/files/asm.1aln", &entry))
	assert.True(t, entry.Binary)
	assert.Equal(t, int64(2), entry.Lines["C"].Count)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/files/nope.1aln", nil))
}

func TestGetStats(t *testing.T) {
	srv := newTestServer(t)

	var stats struct {
		Type string `json:"type"`
		onefile.Counts
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/files/asm.1aln/stats/S", &stats))
	assert.Equal(t, "S", stats.Type)
	assert.Equal(t, onefile.Counts{Count: 1, Max: 4, Total: 4}, stats.Counts)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/files/asm.1aln/stats/Z", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/files/nope.1aln/stats/S", nil))
}

func TestGetSkeleton(t *testing.T) {
	srv := newTestServer(t)

	var contigs map[string]skeleton.Contig
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/files/asm.1aln/skeleton", &contigs))
	require.Len(t, contigs, 2)
	assert.Equal(t, "chr1", contigs["0"].Name)
	assert.Equal(t, int64(200), contigs["0"].ScaffoldLen)
	assert.Equal(t, skeleton.Span{Begin: 150, Len: 50}, contigs["1"].Span)
}

func TestRefreshEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/files/refresh", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Files int `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 1, out.Files)
}
