package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsDir(t *testing.T) {
	dir, err := migrationsDir()
	require.NoError(t, err)
	assert.Equal(t, "migrations", filepath.Base(dir))

	files, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	schema, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(schema), "CREATE TABLE connections")
}
