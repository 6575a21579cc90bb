// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/jcodagnone/placelookup/places"
	"github.com/jcodagnone/placelookup/utils/textutils"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexOptions = struct {
	BatchSize int
}{}

var indexCmd = &cobra.Command{
	Use:   "index <places.csv>",
	Short: "Load a gazetteer CSV into the Elasticsearch index",
	Long: `Reads a CSV file with name,address,lat,lng columns and stores every row
in the index used by the elastic provider. Rows are keyed by place ID, so
loading the same file twice does not duplicate documents.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", args[0], err)
		}
		defer f.Close()

		rows, err := places.ReadCSV(f)
		if err != nil {
			return err
		}

		e, err := places.NewElastic(places.ElasticOptions{URL: cfg.Elastic.URL, Index: cfg.Elastic.Index})
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := e.EnsureIndex(ctx); err != nil {
			return err
		}

		var bar *progressbar.ProgressBar
		if isatty.IsTerminal(os.Stderr.Fd()) {
			bar = progressbar.NewOptions(len(rows),
				progressbar.OptionSetDescription("Indexing "+cfg.Elastic.Index),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}

		batchSize := max(indexOptions.BatchSize, 1)
		indexed := 0

		for start := 0; start < len(rows); start += batchSize {
			batch := rows[start:min(start+batchSize, len(rows))]

			n, err := e.Index(ctx, batch)
			if err != nil {
				return err
			}

			indexed += n

			if bar != nil {
				_ = bar.Add(len(batch))
			}
		}

		log.Printf("✅ Indexed %s of %s places into %s",
			textutils.FormatCount(indexed), textutils.FormatCount(len(rows)), cfg.Elastic.Index)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().IntVar(
		&indexOptions.BatchSize,
		"batch-size",
		500,
		"Documents per bulk request",
	)
}
