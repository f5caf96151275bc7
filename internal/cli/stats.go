package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/kilupskalvis/kotoimi/internal/analysis"
	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dataset and quality statistics",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export consented submissions as CSV",
	Long: `Export consented submissions as CSV, oldest first. Author hashes are
never exported.

Examples:
  kotoimi export > data.csv
  kotoimi export --out data.csv`,
	Args: cobra.NoArgs,
	Run:  runExport,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the statistics as JSON")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
}

func runStats(cmd *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	stats, err := c.Service.Stats(cmd.Context())
	if err != nil {
		exitError("%v", err)
	}

	out := cmd.OutOrStdout()
	if statsJSON {
		if err := writeIndentedJSON(out, stats); err != nil {
			exitError("%v", err)
		}
		return
	}
	printStats(out, stats)
}

func printStats(w io.Writer, s *analysis.Stats) {
	b := s.Basic
	headingColor.Fprintln(w, "Dataset")
	fmt.Fprintf(w, "  total records:     %d\n", b.TotalRecords)
	fmt.Fprintf(w, "  consented:         %d (%.1f%%)\n", b.ConsentedRecords, b.ConsentRate*100)

	modes := make([]string, 0, len(b.Modes))
	for m := range b.Modes {
		modes = append(modes, m)
	}
	sort.Strings(modes)
	for _, m := range modes {
		fmt.Fprintf(w, "  %-18s %d\n", m+":", b.Modes[m])
	}

	if len(b.Events) > 0 {
		labelColor.Fprintln(w, "  by event:")
		for _, e := range b.Events {
			fmt.Fprintf(w, "    %-26s %d\n", e.EventTag, e.Count)
		}
	}
	if len(b.Daily) > 0 {
		labelColor.Fprintln(w, "  recent days:")
		for _, d := range b.Daily {
			fmt.Fprintf(w, "    %s  %d\n", d.Date, d.Count)
		}
	}

	q := s.Quality
	fmt.Fprintln(w)
	headingColor.Fprintln(w, "Quality (consented)")
	fmt.Fprintf(w, "  high quality:      %d / %d\n", q.HighQuality, q.Total)
	flagged := color.New(color.FgRed)
	for _, f := range []struct {
		name string
		n    int
	}{{"spam", q.Spam}, {"duplicate", q.Duplicate}, {"too_short", q.TooShort}} {
		fmt.Fprintf(w, "  %-18s ", f.name+":")
		if f.n > 0 {
			flagged.Fprintf(w, "%d\n", f.n)
		} else {
			fmt.Fprintf(w, "%d\n", f.n)
		}
	}

	rt := q.ReactionTime
	if rt.Count > 0 {
		fmt.Fprintf(w, "  reaction time:     mean %.0fms, median %.0fms, min %dms, max %dms, sd %.0fms\n",
			rt.Mean, rt.Median, rt.Min, rt.Max, rt.StdDev)
	}
}

func runExport(cmd *cobra.Command, _ []string) {
	c := initContext()
	defer c.Close()

	w := cmd.OutOrStdout()
	if exportOut != "" {
		f, err := os.Create(exportOut)
		if err != nil {
			exitError("failed to create %s: %v", exportOut, err)
		}
		defer f.Close()
		w = f
	}

	n, err := c.Service.Export(cmd.Context(), w)
	if err != nil {
		exitError("export failed: %v", err)
	}
	if exportOut != "" {
		color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", n, exportOut)
	}
}
