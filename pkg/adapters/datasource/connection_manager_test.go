package datasource_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-sqlbot/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/retry"
)

const envKey = "SQLBOT_TEST_DSN"

// seedDatabase creates <dir>/<name>.db with an accounts table.
func seedDatabase(t *testing.T, dir, name string) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, name+".db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE accounts (id INTEGER PRIMARY KEY, name TEXT, note BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO accounts (id, name, note) VALUES (1, 'Acme', NULL), (2, 'Globex', x'0102')`)
	require.NoError(t, err)
}

func newManager(t *testing.T) (*datasource.ConnectionManager, string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(envKey, "sqlite:"+dir+string(filepath.Separator))

	cm := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		DefaultDialect: "sqlite",
		Retry:          retry.NoRetry(),
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cm.Close() })
	return cm, dir
}

func TestConnectionManager_Reuse(t *testing.T) {
	cm, dir := newManager(t)
	seedDatabase(t, dir, "Sales")
	ctx := context.Background()

	conn1, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)
	conn2, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("%p", conn1), fmt.Sprintf("%p", conn2), "should reuse same connection")

	stats := cm.GetStats()
	assert.Equal(t, 1, stats.TotalConnections)
	assert.Equal(t, []string{"Sales"}, stats.Databases)
	assert.Equal(t, 1, stats.ByDialect["sqlite"])
}

func TestConnectionManager_OnePerDatabase(t *testing.T) {
	cm, dir := newManager(t)
	seedDatabase(t, dir, "Sales")
	seedDatabase(t, dir, "Ops")
	ctx := context.Background()

	sales, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)
	ops, err := cm.GetConnection(ctx, "Ops", envKey)
	require.NoError(t, err)

	assert.NotEqual(t, fmt.Sprintf("%p", sales), fmt.Sprintf("%p", ops))
	assert.Equal(t, []string{"Ops", "Sales"}, cm.GetStats().Databases)
}

func TestConnectionManager_Query(t *testing.T) {
	cm, dir := newManager(t)
	seedDatabase(t, dir, "Sales")

	conn, err := cm.GetConnection(context.Background(), "Sales", envKey)
	require.NoError(t, err)

	result, err := conn.Query(context.Background(),
		"SELECT id, name, note FROM accounts WHERE name = ? OR id = ? ORDER BY id", []any{"Acme", 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name", "note"}, result.Columns)
	require.Equal(t, 2, result.RowCount)
	assert.Equal(t, int64(1), result.Rows[0]["id"])
	assert.Equal(t, "Acme", result.Rows[0]["name"])
	assert.Nil(t, result.Rows[0]["note"])
	assert.Equal(t, []byte{0x01, 0x02}, result.Rows[1]["note"], "blob columns keep their bytes")

	empty, err := conn.Query(context.Background(), "SELECT id FROM accounts WHERE id = ?", []any{99})
	require.NoError(t, err)
	assert.Equal(t, 0, empty.RowCount)
	assert.Equal(t, []string{"id"}, empty.Columns)
}

func TestConnectionManager_StaleConnectionRecovery(t *testing.T) {
	cm, dir := newManager(t)
	seedDatabase(t, dir, "Sales")
	ctx := context.Background()

	first, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)

	// Simulate a dropped connection
	require.NoError(t, first.(*datasource.Connection).DB().Close())

	second, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)
	assert.NotEqual(t, fmt.Sprintf("%p", first), fmt.Sprintf("%p", second), "should replace the dead connection")

	result, err := second.Query(ctx, "SELECT COUNT(*) AS n FROM accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Rows[0]["n"])
	assert.Equal(t, 1, cm.GetStats().TotalConnections)
}

func TestConnectionManager_InvalidDatabaseName(t *testing.T) {
	cm, _ := newManager(t)

	for _, name := range []string{"bad-name", "x; DROP TABLE y", "", "a b"} {
		_, err := cm.GetConnection(context.Background(), name, envKey)
		assert.ErrorIs(t, err, apperrors.ErrInvalidDatabaseName, "name %q", name)
	}
	assert.Equal(t, 0, cm.GetStats().TotalConnections)
}

func TestConnectionManager_MissingCredentials(t *testing.T) {
	cm, _ := newManager(t)

	_, err := cm.GetConnection(context.Background(), "Sales", "SQLBOT_TEST_UNSET_DSN")
	require.ErrorIs(t, err, apperrors.ErrMissingCredentials)
	assert.Contains(t, err.Error(), "SQLBOT_TEST_UNSET_DSN")

	t.Setenv("SQLBOT_TEST_EMPTY_DSN", "")
	_, err = cm.GetConnection(context.Background(), "Sales", "SQLBOT_TEST_EMPTY_DSN")
	assert.ErrorIs(t, err, apperrors.ErrMissingCredentials)
}

func TestConnectionManager_ConcurrentAccess(t *testing.T) {
	cm, dir := newManager(t)
	seedDatabase(t, dir, "Sales")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			conn, err := cm.GetConnection(ctx, "Sales", envKey)
			if err != nil {
				errs <- err
				return
			}
			if _, err := conn.Query(ctx, "SELECT name FROM accounts WHERE id = ?", []any{id%2 + 1}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, cm.GetStats().TotalConnections)
}

func TestConnectionManager_Close(t *testing.T) {
	cm, dir := newManager(t)
	seedDatabase(t, dir, "Sales")

	_, err := cm.GetConnection(context.Background(), "Sales", envKey)
	require.NoError(t, err)

	require.NoError(t, cm.Close())
	require.NoError(t, cm.Close(), "close is idempotent")
	assert.Equal(t, 0, cm.GetStats().TotalConnections)

	_, err = cm.GetConnection(context.Background(), "Sales", envKey)
	assert.Error(t, err)
}

func TestConnectionManager_BusyConnectionIsNotReplaced(t *testing.T) {
	dir := t.TempDir()
	seedDatabase(t, dir, "Sales")
	t.Setenv(envKey, "sqlite:"+dir+string(filepath.Separator))

	core, logs := observer.New(zap.WarnLevel)
	cm := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		DefaultDialect: "sqlite",
		ProbeTimeout:   50 * time.Millisecond,
		Retry:          retry.NoRetry(),
	}, zap.New(core))
	t.Cleanup(func() { _ = cm.Close() })
	ctx := context.Background()

	first, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)

	// An open result set holds the only pooled connection.
	rows, err := first.(*datasource.Connection).DB().QueryContext(ctx, "SELECT id FROM accounts")
	require.NoError(t, err)

	second, err := cm.GetConnection(ctx, "Sales", envKey)
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	assert.Equal(t, fmt.Sprintf("%p", first), fmt.Sprintf("%p", second), "a busy connection is still alive")
	assert.Equal(t, 0, logs.FilterMessage("Connection is stale, reconnecting").Len())
	assert.Equal(t, 1, cm.GetStats().TotalConnections)

	result, err := second.Query(ctx, "SELECT COUNT(*) AS n FROM accounts", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Rows[0]["n"])
}

func TestConnectionManager_SlowDialDoesNotBlockOtherDatabases(t *testing.T) {
	dir := t.TempDir()
	seedDatabase(t, dir, "Sales")
	seedDatabase(t, dir, "Ops")
	dsn := "sqlite:" + dir + string(filepath.Separator)

	entered := make(chan struct{})
	release := make(chan struct{})
	cm := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		DefaultDialect: "sqlite",
		Retry:          retry.NoRetry(),
		LookupEnv: func(key string) (string, bool) {
			if key == "SLOW_DSN" {
				close(entered)
				<-release
			}
			return dsn, true
		},
	}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = cm.Close() })
	ctx := context.Background()

	slowErr := make(chan error, 1)
	go func() {
		_, err := cm.GetConnection(ctx, "Sales", "SLOW_DSN")
		slowErr <- err
	}()
	<-entered

	fastErr := make(chan error, 1)
	go func() {
		_, err := cm.GetConnection(ctx, "Ops", "FAST_DSN")
		fastErr <- err
	}()

	select {
	case err := <-fastErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("Ops connection waited for the Sales dial")
	}
	assert.Equal(t, []string{"Ops"}, cm.GetStats().Databases)

	close(release)
	require.NoError(t, <-slowErr)
	assert.Equal(t, []string{"Ops", "Sales"}, cm.GetStats().Databases)
}
