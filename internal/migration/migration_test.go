package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/mogcia-app/signal/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.Len(t, ups, 4)
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrationsCreateEveryTable(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(embeddedMigrations, migrationsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		body, err := fs.ReadFile(embeddedMigrations, path)
		if err != nil {
			return err
		}
		all.Write(body)
		return nil
	})
	require.NoError(t, err)

	for _, table := range []string{"analytics_events", "kpi_monthly_summaries", "owner_profiles", "kpi_rebuild_requests"} {
		assert.Contains(t, all.String(), "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestApplyAutoMigratesSQLite(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, Apply(conn, "sqlite"))

	for _, table := range []string{"analytics_events", "kpi_monthly_summaries", "owner_profiles", "kpi_rebuild_requests"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestApplyRequiresConnection(t *testing.T) {
	assert.Error(t, Apply(nil, "sqlite"))
}
