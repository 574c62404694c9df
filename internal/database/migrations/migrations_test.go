package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(files, "sql")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file in migrations: %s", name)
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestLedgerSchemaCarriesUniqueKeys(t *testing.T) {
	body, err := fs.ReadFile(files, "sql/000001_ledger.up.sql")
	require.NoError(t, err)
	schema := string(body)

	for _, fragment := range []string{
		"correlation_id  TEXT UNIQUE",
		"short_code      CHAR(8) NOT NULL UNIQUE",
		"token                 TEXT NOT NULL UNIQUE",
		"ticket_id     TEXT NOT NULL UNIQUE",
	} {
		assert.Contains(t, schema, fragment)
	}
}
