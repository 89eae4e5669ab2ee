package storage

import (
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repoFor(d Dialect, now time.Time) *Repo {
	return &Repo{db: &DB{Dialect: d}, table: "guilds", now: func() time.Time { return now }}
}

func TestDriverFor(t *testing.T) {
	cases := map[string]struct {
		driver  string
		dialect Dialect
	}{
		"postgres://u:p@localhost/db":       {"pgx", Postgres},
		"postgresql://localhost/db":         {"pgx", Postgres},
		"libsql://bot.turso.io?authToken=x": {"libsql", SQLite},
		"file:./bot.db":                     {"libsql", SQLite},
	}
	for url, want := range cases {
		driver, dialect, err := DriverFor(url)
		require.NoError(t, err, url)
		assert.Equal(t, want.driver, driver, url)
		assert.Equal(t, want.dialect, dialect, url)
	}

	_, _, err := DriverFor("mysql://secret@host/db")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestBuildFindDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	query, args := repoFor(Postgres, now).buildFind(FindOptions{})

	assert.Equal(t,
		"SELECT id, created FROM guilds WHERE created BETWEEN $1 AND $2 ORDER BY created DESC, id DESC LIMIT $3 OFFSET $4",
		query)
	require.Len(t, args, 4)
	assert.Equal(t, time.Unix(0, 0).UTC(), args[0])
	assert.Equal(t, now, args[1])
	assert.Equal(t, 10, args[2])
	assert.Equal(t, 0, args[3])
}

func TestBuildFindFilters(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	created := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	query, args := repoFor(SQLite, now).buildFind(FindOptions{
		ID:      "123",
		Created: created,
		Sort:    Asc,
		Page:    3,
		Count:   5,
	})

	assert.Equal(t,
		"SELECT id, created FROM guilds WHERE id = ? AND created = ? ORDER BY created ASC, id ASC LIMIT ? OFFSET ?",
		query)
	assert.Equal(t, []any{"123", "2024-01-02 03:04:05.000000006", 5, 10}, args)
}

func TestBuildExisting(t *testing.T) {
	ids := []string{"a", "b"}

	query, args := repoFor(Postgres, time.Now()).buildExisting(ids)
	assert.Equal(t, "SELECT id FROM guilds WHERE id = ANY($1)", query)
	assert.Equal(t, []any{pq.Array(ids)}, args)

	query, args = repoFor(SQLite, time.Now()).buildExisting(ids)
	assert.Equal(t, "SELECT id FROM guilds WHERE id IN (?, ?)", query)
	assert.Equal(t, []any{"a", "b"}, args)
}

func TestScanTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, v := range []any{want, "2024-01-02 03:04:05.000000000", []byte("2024-01-02 03:04:05.000000000")} {
		got, err := scanTime(v)
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
	}
	_, err := scanTime(42)
	require.Error(t, err)
}
