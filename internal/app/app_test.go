package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-insights/internal/config"
)

func TestNew(t *testing.T) {
	t.Run("sqlite journal", func(t *testing.T) {
		cfg := &config.Config{
			GraphQLURL:  "http://localhost/graphql",
			APIURL:      "http://localhost/api",
			StorageType: "sqlite",
			SQLitePath:  filepath.Join(t.TempDir(), "runs.db"),
		}
		a, err := New(cfg)
		require.NoError(t, err)
		defer a.Close()

		assert.NotNil(t, a.Aggregator)
		assert.NotNil(t, a.Store)
	})

	t.Run("journal disabled", func(t *testing.T) {
		a, err := New(&config.Config{StorageType: "none"})
		require.NoError(t, err)
		assert.Nil(t, a.Store)
		assert.NoError(t, a.Close())
	})
}
