package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/widgetchat/internal/logging"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:", logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db.SQL())
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.migrate())

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}

// --- KV contract, run against every backend ---

func backends(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()
	log := logging.New(nil, "silent")

	out := map[string]KV{}
	for _, b := range []struct{ name, path string }{
		{BackendSQLite, filepath.Join(dir, "nested", "identity.db")},
		{BackendBolt, filepath.Join(dir, "nested", "identity.bolt")},
		{BackendMemory, ""},
	} {
		kv, err := OpenKV(b.name, b.path, log)
		require.NoError(t, err, b.name)
		t.Cleanup(func() { kv.Close() })
		out[b.name] = kv
	}
	return out
}

func TestKV_Contract(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := kv.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, kv.Set("k", "v1"))
			v, ok, err := kv.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", v)

			require.NoError(t, kv.Set("k", "v2"))
			v, _, _ = kv.Get("k")
			assert.Equal(t, "v2", v)

			require.NoError(t, kv.Delete("k"))
			_, ok, err = kv.Get("k")
			require.NoError(t, err)
			assert.False(t, ok)

			assert.NoError(t, kv.Delete("never-set"))
		})
	}
}

func TestKV_PersistsAcrossReopen(t *testing.T) {
	log := logging.New(nil, "silent")
	for _, backend := range []string{BackendSQLite, BackendBolt} {
		t.Run(backend, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "store")

			kv, err := OpenKV(backend, path, log)
			require.NoError(t, err)
			require.NoError(t, kv.Set("anonymousId", "user-1"))
			require.NoError(t, kv.Close())

			kv, err = OpenKV(backend, path, log)
			require.NoError(t, err)
			defer kv.Close()

			v, ok, err := kv.Get("anonymousId")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "user-1", v)
		})
	}
}

func TestOpenKV_UnknownBackend(t *testing.T) {
	_, err := OpenKV("redis", "", logging.New(nil, "silent"))
	assert.ErrorContains(t, err, "unknown storage backend")
}
