package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surftrail/surftrail/internal/config"
)

var (
	resetIncludeJournal bool
	resetForce          bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset surftrail to a clean state",
	Long: `Reset surftrail by removing local session data.

By default, the state file (and its backup) and the session database
are removed. This clears the persisted global session, private mode,
host version and all window/tab/domain session records. Nothing is
removed on the collection API side; the server closes dangling
sessions on its own.

On next start, surftrail opens a fresh global session and resyncs
host rules.

Optional flags:
  --include-journal  Also remove journal files
  --force            Skip confirmation prompt

Examples:
  # Reset state and database (interactive confirmation)
  surftrail reset

  # Reset everything without prompting
  surftrail reset --include-journal --force`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetIncludeJournal, "include-journal", false, "Also remove journal files")
	resetCmd.Flags().BoolVar(&resetForce, "force", false, "Skip confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	type target struct {
		path string
		desc string
	}
	statePath := cfg.Store.StatePath()
	dbPath := cfg.Store.DatabasePath()
	targets := []target{
		{statePath, "state file"},
		{statePath + ".bak", "state backup"},
		{dbPath, "session database"},
		{dbPath + "-wal", "database WAL"},
		{dbPath + "-shm", "database shared memory"},
	}
	if resetIncludeJournal {
		targets = append(targets, target{cfg.Journal.Dir, "journal directory"})
	}

	var existing []target
	for _, t := range targets {
		if _, err := os.Stat(t.path); err == nil {
			existing = append(existing, t)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(os.Stderr, "Nothing to reset — no local session data found.")
		return nil
	}

	fmt.Fprintln(os.Stderr, "The following will be removed:")
	for _, t := range existing {
		fmt.Fprintf(os.Stderr, "  - %s (%s)\n", t.path, t.desc)
	}

	if !resetForce {
		fmt.Fprint(os.Stderr, "\nProceed? [y/N] ")
		var answer string
		fmt.Scanln(&answer) //nolint:errcheck // interactive prompt, error irrelevant
		if answer != "y" && answer != "Y" {
			fmt.Fprintln(os.Stderr, "Aborted.")
			return nil
		}
	}

	var failures int
	for _, t := range existing {
		if err := os.RemoveAll(t.path); err != nil {
			fmt.Fprintf(os.Stderr, "  ERROR removing %s: %v\n", t.path, err)
			failures++
		} else {
			fmt.Fprintf(os.Stderr, "  Removed %s\n", t.path)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) could not be removed", failures)
	}

	fmt.Fprintln(os.Stderr, "\nReset complete. surftrail will start fresh on next launch.")
	return nil
}
