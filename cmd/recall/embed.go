package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aiox-platform/recall/internal/config"
	"github.com/aiox-platform/recall/internal/embedding"
)

var embedCmd = &cobra.Command{
	Use:   "embed <text>",
	Short: "Print the embedding of a text using the configured provider",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		embedder, err := newEmbedder(cfg.Embedding)
		if err != nil {
			return err
		}
		defer embedder.Close()

		vec, err := embedder.Embed(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}

		n, _ := cmd.Flags().GetInt("head")
		n = min(max(n, 0), len(vec))

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "provider:   %s\n", cfg.Embedding.Provider)
		fmt.Fprintf(out, "dimensions: %d\n", len(vec))
		fmt.Fprintf(out, "nonzero:    %d\n", nonZero(vec))
		fmt.Fprintf(out, "head:       %v\n", vec[:n])
		return nil
	},
}

func init() {
	embedCmd.Flags().Int("head", 8, "number of leading components to print")
	rootCmd.AddCommand(embedCmd)
}

func nonZero(vec []float32) int {
	n := 0
	for _, v := range vec {
		if v != 0 {
			n++
		}
	}
	return n
}

// newEmbedder builds the embedding service for cfg. Remote failures always
// fall back to the local hash.
func newEmbedder(cfg config.EmbeddingConfig) (*embedding.Service, error) {
	remote, err := embedding.NewRemote(cfg.Provider, cfg.BaseURL, cfg.APIKey, cfg.Model)
	if err != nil {
		return nil, err
	}
	return embedding.NewService(embedding.Config{
		Dimensions:   cfg.Dimensions,
		Timeout:      cfg.Timeout,
		CacheMaxCost: cfg.CacheMaxCost,
	}, remote, slog.Default())
}
