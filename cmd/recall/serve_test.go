package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiox-platform/recall/internal/config"
	"github.com/aiox-platform/recall/internal/generator"
	"github.com/aiox-platform/recall/internal/memory"
)

func TestOpenMemoryStore(t *testing.T) {
	tests := []struct {
		name  string
		store string
		want  any
	}{
		{"memory", config.StoreMemory, &memory.InMemoryStore{}},
		{"sqlite", config.StoreSQLite, &memory.SQLiteStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				Memory:    config.MemoryConfig{Store: tt.store, SQLitePath: filepath.Join(t.TempDir(), "recall.db")},
				Embedding: config.EmbeddingConfig{Dimensions: 16},
			}
			store, err := openMemoryStore(cfg, nil)
			require.NoError(t, err)
			defer store.Close()

			assert.IsType(t, tt.want, store)

			n, err := store.Count(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestNewGenerator(t *testing.T) {
	profile, err := loadProfile(config.ContextConfig{AssistantName: "N", OwnerName: "Nischal"})
	require.NoError(t, err)

	gen, err := newGenerator(config.GeneratorConfig{}, profile)
	require.NoError(t, err)
	assert.Equal(t, generator.Echo{Name: "N"}, gen)

	gen, err = newGenerator(config.GeneratorConfig{APIKey: "key"}, profile)
	require.NoError(t, err)
	assert.IsType(t, &generator.Anthropic{}, gen)
}

func TestLoadProfile(t *testing.T) {
	profile, err := loadProfile(config.ContextConfig{ProfileFile: "../../configs/profile.example.yaml"})
	require.NoError(t, err)
	assert.Equal(t, "N", profile.AssistantName)
	assert.NotEmpty(t, profile.Rules)

	_, err = loadProfile(config.ContextConfig{ProfileFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestEmbedCommand(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "none")
	t.Setenv("EMBEDDING_DIMENSIONS", "32")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"embed", "--head", "4", "hello", "there"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "dimensions: 32")
	assert.Contains(t, out.String(), "nonzero:    2")
}
