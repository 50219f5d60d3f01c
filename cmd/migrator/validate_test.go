package main

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exphub-io/exphub/migrations"
)

func migrationSet(names ...string) fstest.MapFS {
	fsys := make(fstest.MapFS, len(names))
	for _, name := range names {
		fsys[name] = &fstest.MapFile{Data: []byte("SELECT 1;")}
	}

	return fsys
}

func TestValidateMigrations(t *testing.T) {
	t.Run("embedded migration set is valid", func(t *testing.T) {
		assert.NoError(t, ValidateMigrations(migrations.FS))
	})

	t.Run("valid synthetic set", func(t *testing.T) {
		fsys := migrationSet(
			"001_create_things.up.sql",
			"001_create_things.down.sql",
			"002_add_index.up.sql",
			"002_add_index.down.sql",
		)

		assert.NoError(t, ValidateMigrations(fsys))
	})

	t.Run("empty set fails", func(t *testing.T) {
		err := ValidateMigrations(migrationSet())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no migration files")
	})

	t.Run("missing down migration fails", func(t *testing.T) {
		fsys := migrationSet(
			"001_create_things.up.sql",
			"001_create_things.down.sql",
			"002_add_index.up.sql",
		)

		err := ValidateMigrations(fsys)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing down migration for 002_add_index")
	})

	t.Run("missing up migration fails", func(t *testing.T) {
		fsys := migrationSet(
			"001_create_things.up.sql",
			"001_create_things.down.sql",
			"002_add_index.down.sql",
		)

		err := ValidateMigrations(fsys)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing up migration for 002_add_index")
	})

	t.Run("sequence gap fails", func(t *testing.T) {
		fsys := migrationSet(
			"001_create_things.up.sql",
			"001_create_things.down.sql",
			"003_add_index.up.sql",
			"003_add_index.down.sql",
		)

		err := ValidateMigrations(fsys)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "gap in migration sequence")
	})

	t.Run("sequence not starting at one fails", func(t *testing.T) {
		fsys := migrationSet(
			"002_add_index.up.sql",
			"002_add_index.down.sql",
		)

		err := ValidateMigrations(fsys)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "should start with 001")
	})
}

func TestParseMigrationFilename(t *testing.T) {
	t.Run("valid filename", func(t *testing.T) {
		info, err := parseMigrationFilename("004_create_api_keys.up.sql")

		require.NoError(t, err)
		assert.Equal(t, 4, info.Sequence)
		assert.Equal(t, "create_api_keys", info.Name)
		assert.Equal(t, "up", info.Direction)
	})

	t.Run("invalid filenames", func(t *testing.T) {
		invalid := []string{
			"1_short_sequence.up.sql",
			"001_no_direction.sql",
			"001_bad-chars.up.sql",
			"notes.txt",
		}

		for _, name := range invalid {
			_, err := parseMigrationFilename(name)
			assert.Error(t, err, "expected %s to be rejected", name)
		}
	})
}
