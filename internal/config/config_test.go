package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  host: db
  port: "5432"
  user: u
  password: p
  dbname: nominations
feed:
  output_limit: 10
`), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("APP_PORT", "9090")

	cfg := MustLoad()

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 50, cfg.Feed.WindowSize)
	assert.Equal(t, 10, cfg.Feed.OutputLimit)
	assert.Equal(t, 3*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, 0.6, cfg.Breaker.FailureRatio)
	assert.Equal(t, "host=db port=5432 user=u dbname=nominations password=p sslmode=disable", cfg.Database.DSN())
}
