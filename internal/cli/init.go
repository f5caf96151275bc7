package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/kilupskalvis/kotoimi/internal/config"
	"github.com/kilupskalvis/kotoimi/internal/store"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and create the database",
	Long: fmt.Sprintf(`Write a default %s (or the file given with --config) and
create the submission database it points at.`, config.ConfigFile),
	Args: cobra.NoArgs,
	Run:  runInit,
}

func runInit(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()

	cfg, err := config.Initialize(configPath)
	if err != nil {
		exitError("failed to initialize config: %v", err)
	}
	fmt.Fprintf(out, "Wrote %s\n", cfg.Path())

	st, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		exitError("failed to create store: %v", err)
	}
	defer st.Close()

	color.New(color.FgGreen).Fprintf(out, "Initialized %s store at %s\n", cfg.Storage.Backend, cfg.Storage.Path)
	fmt.Fprintf(out, "\nRun 'kotoimi serve' to start collecting submissions.\n")
}
