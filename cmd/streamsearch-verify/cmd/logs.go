package cmd

import (
	"fmt"
	"os"
	"regexp"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/streamsearch/engine/internal/logging"
)

var (
	logsFile    string
	logsTail    int
	logsFollow  bool
	logsLevel   string
	logsPattern string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View worker logs",
	Long:  `Tails or follows the worker's JSON log stream with level and pattern filters.`,
	RunE:  runLogs,
}

func init() {
	logsCmd.Flags().StringVar(&logsFile, "file", "", "log file (default: the worker's log path)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "number of trailing entries")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow the log as it grows")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level filter")
	logsCmd.Flags().StringVar(&logsPattern, "grep", "", "regexp filter over messages")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	path, err := logging.FindLogFile(logsFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if logsPattern != "" {
		pattern, err = regexp.Compile(logsPattern)
		if err != nil {
			return fmt.Errorf("bad --grep pattern: %w", err)
		}
	}

	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   logsLevel,
		Pattern: pattern,
		NoColor: !isatty.IsTerminal(os.Stdout.Fd()),
	}, os.Stdout)

	entries, err := viewer.Tail(path, logsTail)
	if err != nil {
		return err
	}
	viewer.Print(entries)

	if !logsFollow {
		return nil
	}
	ch := make(chan logging.LogEntry, 64)
	go func() {
		for entry := range ch {
			fmt.Println(viewer.FormatEntry(entry))
		}
	}()
	return viewer.Follow(cmd.Context(), path, ch)
}
