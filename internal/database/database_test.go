package database

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestConnectRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := ConnectRedis("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = ConnectRedis("")
	require.Error(t, err)
	_, err = ConnectRedis("not a url")
	require.Error(t, err)
}

func TestConnectSQLite(t *testing.T) {
	db, err := ConnectSQLite(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, sqlDB.Ping())

	_, err = ConnectSQLite("")
	require.Error(t, err)
}

func TestConnectRequiresAddresses(t *testing.T) {
	_, err := ConnectPostgres("")
	require.Error(t, err)
	_, err = ConnectNATS("", "chat")
	require.Error(t, err)
}
