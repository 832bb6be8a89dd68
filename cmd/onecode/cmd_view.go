package main

import (
	"github.com/spf13/cobra"

	"github.com/pangenome/onecode/pkg/onefile"
)

var cmdView = &cobra.Command{
	Use:   "view <input> <output>",
	Short: "Re-encode a ONE file, converting between binary and ASCII",
	Long: `view copies every line of the input to the output, inheriting the
schema, provenance, and reference chains. By default the output is ASCII;
with --binary it is the packed indexed encoding.`,
	Args: cobra.ExactArgs(2),
	Run:  runView,
}

var flagView struct {
	Binary bool
}

func init() {
	cmdMain.AddCommand(cmdView)

	cmdView.Flags().BoolVarP(&flagView.Binary, "binary", "b", false, "Write the binary encoding")
}

func runView(_ *cobra.Command, args []string) {
	in, err := onefile.OpenRead(args[0], nil, "", 1)
	check(err)
	defer in.Close()

	out, err := onefile.OpenWriteFrom(args[1], in, flagView.Binary, 1)
	check(err)
	out.AddProvenance("onecode", version, "view "+args[0])

	for {
		tag, err := in.ReadLine()
		check(err)
		if tag == 0 {
			break
		}
		checkf(out.CopyLine(in), "copy line %d", in.LineNumber())
	}
	check(out.Close())
}
