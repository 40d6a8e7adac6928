package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/streamsearch/engine/internal/worker"
)

var feedFile string

// feedDoc is one document in a feed file.
type feedDoc struct {
	ID        string            `yaml:"id"`
	Timestamp uint64            `yaml:"timestamp"`
	Remove    bool              `yaml:"remove"`
	Fields    map[string]string `yaml:"fields"`
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Feed documents into the bucket",
	Long: `Reads a YAML list of documents ({id, timestamp, fields} entries,
or {id, timestamp, remove: true} tombstones) and appends them to the
bucket's slot file.`,
	RunE: runFeed,
}

func init() {
	feedCmd.Flags().StringVarP(&feedFile, "file", "f", "", "YAML feed file (required)")
	feedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(feedCmd)
}

func runFeed(cmd *cobra.Command, args []string) error {
	cfg, logger, cleanup, err := loadConfig()
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(feedFile)
	if err != nil {
		return fmt.Errorf("read feed file: %w", err)
	}
	var docs []feedDoc
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return fmt.Errorf("parse feed file: %w", err)
	}

	w, err := worker.New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, doc := range docs {
		if doc.Remove {
			if err := w.File().AddRemoveEntry(doc.Timestamp, doc.ID); err != nil {
				return err
			}
			continue
		}
		blob, err := worker.EncodeFields(doc.Fields)
		if err != nil {
			return err
		}
		if err := w.File().AddDocument(doc.Timestamp, doc.ID, blob, nil); err != nil {
			return err
		}
	}

	res, err := w.File().Flush()
	if err != nil {
		return err
	}
	fmt.Printf("fed %d documents (%s)\n", len(docs), res)
	return nil
}
