package refdata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableResolve(t *testing.T) {
	table := NewTable(nil, map[string]string{"rb": "rb2501", "CU": "cu2502"})

	t.Run("known instrument", func(t *testing.T) {
		c, err := table.Resolve("rb")
		require.NoError(t, err)
		assert.Equal(t, "rb2501", c)
	})

	t.Run("lookup is case-insensitive", func(t *testing.T) {
		c, err := table.Resolve(" Cu ")
		require.NoError(t, err)
		assert.Equal(t, "cu2502", c)
	})

	t.Run("unknown instrument errors", func(t *testing.T) {
		_, err := table.Resolve("au")
		assert.Error(t, err)
	})
}

func TestTableSector(t *testing.T) {
	table := NewTable(map[string]string{"rb": "ferrous", "cu": "metals"}, nil)

	assert.Equal(t, "ferrous", table.Sector("rb"))
	assert.Equal(t, "metals", table.Sector("CU"))
	// Contract codes fall back to the commodity root.
	assert.Equal(t, "ferrous", table.Sector("rb2501"))
	assert.Equal(t, "unknown", table.Sector("au"))
}

func TestTableReplace(t *testing.T) {
	table := NewTable(map[string]string{"rb": "ferrous"}, map[string]string{"rb": "rb2501"})

	table.Replace(map[string]string{"rb": "black"}, map[string]string{"rb": "rb2505"})

	assert.Equal(t, "black", table.Sector("rb"))
	c, err := table.Resolve("rb")
	require.NoError(t, err)
	assert.Equal(t, "rb2505", c)
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refdata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sectors:
  rb: ferrous
  cu: metals
contracts:
  rb: rb2501
`), 0o644))

	table, err := LoadTable(path)
	require.NoError(t, err)
	assert.Equal(t, "metals", table.Sector("cu"))
	c, err := table.Resolve("rb")
	require.NoError(t, err)
	assert.Equal(t, "rb2501", c)

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadTable(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("sectors: [oops"), 0o644))
		_, err := LoadTable(bad)
		assert.Error(t, err)
	})
}
