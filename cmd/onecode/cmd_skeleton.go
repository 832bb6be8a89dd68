package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pangenome/onecode/pkg/onefile"
	"github.com/pangenome/onecode/pkg/skeleton"
)

var cmdSkeleton = &cobra.Command{
	Use:   "skeleton <file>",
	Short: "Print the flattened scaffold skeleton of an alignment file",
	Args:  cobra.ExactArgs(1),
	Run:   runSkeleton,
}

var flagSkeleton struct {
	Group int64
	JSON  bool
}

func init() {
	cmdMain.AddCommand(cmdSkeleton)

	cmdSkeleton.Flags().Int64VarP(&flagSkeleton.Group, "group", "g", 0, "Scan only this group (1-based; 0 scans all)")
	cmdSkeleton.Flags().BoolVar(&flagSkeleton.JSON, "json", false, "Emit JSON instead of a table")
}

func runSkeleton(_ *cobra.Command, args []string) {
	f, err := onefile.OpenRead(args[0], nil, "", 1)
	check(err)
	defer f.Close()

	var m *skeleton.Map
	if flagSkeleton.Group > 0 {
		m, err = skeleton.ScanGroup(f, flagSkeleton.Group)
	} else {
		m, err = skeleton.ScanAll(f)
	}
	check(err)

	ids := m.IDs()
	if flagSkeleton.JSON {
		out := make(map[int64]skeleton.Contig, len(ids))
		for _, id := range ids {
			c, _ := m.Get(id)
			out[id] = c
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		check(enc.Encode(out))
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "contig\tscaffold\tlength\tbegin\tclen")
	for _, id := range ids {
		c, _ := m.Get(id)
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\n", id, c.Name, c.ScaffoldLen, c.Span.Begin, c.Span.Len)
	}
	check(w.Flush())
}
