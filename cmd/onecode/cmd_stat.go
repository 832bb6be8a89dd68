package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pangenome/onecode/pkg/onefile"
)

var cmdStat = &cobra.Command{
	Use:   "stat <file>",
	Short: "Print a ONE file's header and per-line-type statistics",
	Args:  cobra.ExactArgs(1),
	Run:   runStat,
}

var flagStat struct {
	Type string
}

func init() {
	cmdMain.AddCommand(cmdStat)

	cmdStat.Flags().StringVarP(&flagStat.Type, "type", "t", "", "Expected file type; open fails on mismatch")
}

func runStat(_ *cobra.Command, args []string) {
	f, err := onefile.OpenRead(args[0], nil, flagStat.Type, 1)
	check(err)
	defer f.Close()

	encoding := "ascii"
	if f.Binary() {
		encoding = "binary"
	}
	fmt.Printf("file:     %s\n", f.Path())
	fmt.Printf("type:     %s\n", f.FileType())
	if f.SubType() != "" {
		fmt.Printf("subtype:  %s\n", f.SubType())
	}
	fmt.Printf("encoding: %s\n", encoding)

	for _, p := range f.Provenance() {
		fmt.Printf("provenance: %s %s (%s) %s\n", p.Program, p.Version, p.Date, p.Command)
	}
	for _, r := range f.References() {
		fmt.Printf("reference: %s (%d)\n", r.Filename, r.Count)
	}

	if !f.Binary() {
		// Statistics of a textual file require a full pass.
		for {
			tag, err := f.ReadLine()
			check(err)
			if tag == 0 {
				break
			}
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "line\tcount\tmax\ttotal")
	for _, lt := range f.Schema().Lines() {
		counts, err := f.Stats(lt.Tag)
		checkf(err, "stats for %q", lt.Tag)
		if counts.Count == 0 {
			continue
		}
		fmt.Fprintf(w, "%c\t%d\t%d\t%d\n", lt.Tag, counts.Count, counts.Max, counts.Total)
	}
	check(w.Flush())
}
