package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kilupskalvis/kotoimi/internal/core"
	"github.com/kilupskalvis/kotoimi/internal/models"
	"github.com/spf13/cobra"
)

var fetchJSON bool

var fetchCmd = &cobra.Command{
	Use:   "fetch <event_tag>",
	Short: "Show the meaning distribution for a category",
	Long: `Show the meaning-tag distribution and sample meanings that social-mode
participants see for an event category.`,
	Args: cobra.ExactArgs(1),
	Run:  runFetch,
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchJSON, "json", false, "Print the distribution as JSON")
}

func runFetch(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	d, err := c.Service.FetchDistribution(cmd.Context(), args[0])
	if err != nil {
		exitError("%v", err)
	}

	out := cmd.OutOrStdout()
	if fetchJSON {
		if err := writeIndentedJSON(out, d); err != nil {
			exitError("%v", err)
		}
		return
	}
	printDistribution(out, args[0], d)
}

func printDistribution(w io.Writer, category string, d *core.Distribution) {
	headingColor.Fprintf(w, "%s: %d submissions\n", category, d.TotalCount)
	if d.TotalCount == 0 {
		fmt.Fprintln(w, "  no submissions yet")
		return
	}

	tags := make([]models.MeaningTag, 0, len(d.Distribution))
	for tag := range d.Distribution {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool {
		if d.Distribution[tags[i]] != d.Distribution[tags[j]] {
			return d.Distribution[tags[i]] > d.Distribution[tags[j]]
		}
		return tags[i] < tags[j]
	})

	for _, tag := range tags {
		n := d.Distribution[tag]
		pct := float64(n) / float64(d.TotalCount) * 100
		fmt.Fprintf(w, "  %-14s %4d %5.1f%% %s\n", tag, n, pct, strings.Repeat("#", int(pct/5)))
	}

	if len(d.Samples) > 0 {
		labelColor.Fprintln(w, "  samples:")
		for _, s := range d.Samples {
			fmt.Fprintf(w, "    - %s\n", s)
		}
	}
}
