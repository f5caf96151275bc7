package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/kilupskalvis/kotoimi/internal/analysis"
	"github.com/spf13/cobra"
)

var (
	analyzeEventTag string
	analyzeJSON     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [diversity|mode_comparison|revision_impact|comprehensive]",
	Short: "Run a research analysis",
	Long: `Run a research analysis over consented, unflagged submissions.

Without --event-tag the diversity, mode_comparison and revision_impact
analyses cover every category. The comprehensive report always covers
every category plus an overall rollup.

Examples:
  kotoimi analyze
  kotoimi analyze mode_comparison --event-tag weather_rain
  kotoimi analyze comprehensive --json > report.json`,
	ValidArgs: []string{
		string(analysis.KindDiversity),
		string(analysis.KindModeComparison),
		string(analysis.KindRevisionImpact),
		string(analysis.KindComprehensive),
	},
	Args: cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	Run:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeEventTag, "event-tag", "e", "", "Restrict to one event category")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "Print the report as JSON")
}

func runAnalyze(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	kind := ""
	if len(args) == 1 {
		kind = args[0]
	}

	result, err := c.Service.Analyze(cmd.Context(), kind, analyzeEventTag)
	if err != nil {
		exitError("%v", err)
	}

	out := cmd.OutOrStdout()
	if analyzeJSON {
		if err := writeIndentedJSON(out, result); err != nil {
			exitError("%v", err)
		}
		return
	}
	printReport(out, result)
}

func writeIndentedJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var (
	headingColor = color.New(color.FgCyan, color.Bold)
	labelColor   = color.New(color.FgYellow)
	diffUp       = color.New(color.FgGreen)
	diffDown     = color.New(color.FgRed)
)

// printReport renders any analysis report as aligned text.
func printReport(w io.Writer, report interface{}) {
	switch r := report.(type) {
	case *analysis.DiversityReport:
		printDiversity(w, r)
	case *analysis.ModeComparison:
		printModeComparison(w, r)
	case *analysis.RevisionReport:
		printRevisions(w, r)
	case *analysis.ComprehensiveReport:
		printComprehensive(w, r)
	default:
		fmt.Fprintf(w, "%v\n", r)
	}
}

func printDiversity(w io.Writer, r *analysis.DiversityReport) {
	headingColor.Fprintf(w, "Diversity: %s\n", r.EventTag)
	fmt.Fprintf(w, "  entries:           %d\n", r.TotalEntries)
	fmt.Fprintf(w, "  unique meanings:   %d (%.1f%%)\n", r.UniqueMeanings, r.DiversityRate*100)
	fmt.Fprintf(w, "  text entropy:      %.3f bits\n", r.EntropyText)
	fmt.Fprintf(w, "  tag entropy:       %.3f bits\n", r.EntropyTags)
	fmt.Fprintf(w, "  lexical distance:  %.3f\n", r.LexicalDistanceAvg)
	fmt.Fprintf(w, "  consensus rate:    %.1f%%\n", r.ConsensusRate*100)
	if len(r.SampleMeanings) > 0 {
		labelColor.Fprintln(w, "  samples:")
		for _, s := range r.SampleMeanings {
			fmt.Fprintf(w, "    - %s\n", s)
		}
	}
}

func printModeComparison(w io.Writer, r *analysis.ModeComparison) {
	headingColor.Fprintf(w, "Mode comparison: %s\n", r.EventTag)
	fmt.Fprintf(w, "  %-16s %10s %10s %10s\n", "", "solo", "social", "diff")
	fmt.Fprintf(w, "  %-16s %10d %10d\n", "entries", r.Solo.Count, r.Social.Count)
	row := func(name string, solo, social, diff float64) {
		fmt.Fprintf(w, "  %-16s %10.3f %10.3f ", name, solo, social)
		c := diffUp
		if diff < 0 {
			c = diffDown
		}
		c.Fprintf(w, "%+10.3f\n", diff)
	}
	row("text entropy", r.Solo.EntropyText, r.Social.EntropyText, r.Differences.EntropyTextDiff)
	row("tag entropy", r.Solo.EntropyTags, r.Social.EntropyTags, r.Differences.EntropyTagsDiff)
	row("consensus rate", r.Solo.ConsensusRate, r.Social.ConsensusRate, r.Differences.ConsensusRateDiff)
}

func printRevisions(w io.Writer, r *analysis.RevisionReport) {
	headingColor.Fprintf(w, "Revision impact: %s\n", r.EventTag)
	fmt.Fprintf(w, "  social entries:    %d\n", r.TotalSocial)
	fmt.Fprintf(w, "  saw alternatives:  %d\n", r.TotalSawAlternatives)
	fmt.Fprintf(w, "  influence rate:    %.1f%%\n", r.InfluenceRate*100)
	fmt.Fprintf(w, "  changed after:     %d\n", r.ChangedAfterView)
	fmt.Fprintf(w, "  change rate:       %.1f%%\n", r.ChangeRate*100)
	for _, rev := range r.Revisions {
		fmt.Fprintf(w, "    %q -> %q", rev.Original, rev.Revised)
		if rev.RevisionCount > 0 {
			fmt.Fprintf(w, " (%d revisions)", rev.RevisionCount)
		}
		fmt.Fprintln(w)
	}
}

func printComprehensive(w io.Writer, r *analysis.ComprehensiveReport) {
	headingColor.Fprintf(w, "Comprehensive report (%s)\n", r.GeneratedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Fprintf(w, "  event types: %d\n\n", r.Summary.TotalEventTypes)

	if len(r.Summary.EventAnalyses) > 0 {
		fmt.Fprintf(w, "  %-26s %8s %10s %10s %10s\n", "event_tag", "entries", "text H", "tag H", "consensus")
		for _, d := range r.Summary.EventAnalyses {
			fmt.Fprintf(w, "  %-26s %8d %10.3f %10.3f %9.1f%%\n",
				d.EventTag, d.TotalEntries, d.EntropyText, d.EntropyTags, d.ConsensusRate*100)
		}
		fmt.Fprintln(w)
	}

	if r.Overall.Diversity != nil {
		printDiversity(w, r.Overall.Diversity)
		fmt.Fprintln(w)
	}
	if r.Overall.ModeComparison != nil {
		printModeComparison(w, r.Overall.ModeComparison)
		fmt.Fprintln(w)
	}
	if r.Overall.RevisionImpact != nil {
		printRevisions(w, r.Overall.RevisionImpact)
	}
}
