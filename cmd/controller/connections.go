package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/aDN03/CC/internal/store"
)

// printConnections renders the persisted connection table.
func printConnections(w io.Writer, path string) error {
	conns, err := store.ReadConnections(path)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan, color.Bold)
	gray := color.New(color.FgHiBlack)

	if len(conns) == 0 {
		gray.Fprintln(w, "No connections recorded.")
		return nil
	}

	cyan.Fprintf(w, "%d connection(s) in %s\n", len(conns), path)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tIP\tPORT\tLAST ACTIVE")
	for i, c := range conns {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i+1, c.IP, c.Port, c.LastActive.Format(store.TimeLayout))
	}
	return tw.Flush()
}
