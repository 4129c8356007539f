package db

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	createTable = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS (\w+)`)
	dropTable   = regexp.MustCompile(`(?i)DROP TABLE IF EXISTS (\w+)`)
)

func readMigration(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", name))
	require.NoError(t, err)
	return string(data)
}

func TestMigrationUpOnlyCreates(t *testing.T) {
	up := readMigration(t, "0001_auth.up.sql")
	assert.Empty(t, dropTable.FindAllString(up, -1), "up migration must be safe to apply with psql -f")
	assert.NotRegexp(t, `(?i)\+migrate`, up)
}

func TestMigrationDownDropsEveryTable(t *testing.T) {
	up := readMigration(t, "0001_auth.up.sql")
	down := readMigration(t, "0001_auth.down.sql")

	created := map[string]bool{}
	for _, m := range createTable.FindAllStringSubmatch(up, -1) {
		created[m[1]] = true
	}
	require.NotEmpty(t, created)
	for _, table := range []string{"users", "roles", "permissions", "role_permissions", "auth_sessions", "audit_logs"} {
		assert.True(t, created[table], table)
	}

	dropped := map[string]bool{}
	for _, m := range dropTable.FindAllStringSubmatch(down, -1) {
		dropped[m[1]] = true
	}
	assert.Equal(t, created, dropped)
}
