package execution

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"InsightLink/internal/config"
	"InsightLink/internal/modules/conversation/application/service"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestGuardReadOnly(t *testing.T) {
	allowed := map[string]string{
		"SELECT 1":                   "SELECT 1",
		"  select * from orders ;  ": "select * from orders",
		"WITH t AS (SELECT 1 AS x) SELECT x FROM t":    "WITH t AS (SELECT 1 AS x) SELECT x FROM t",
		"(SELECT a FROM b)":                            "(SELECT a FROM b)",
		"SELECT * FROM notes WHERE body = 'delete me'": "SELECT * FROM notes WHERE body = 'delete me'",
		"SELECT updated_at FROM orders":                "SELECT updated_at FROM orders",
		"SELECT REPLACE(name, 'a', 'b') FROM t":        "SELECT REPLACE(name, 'a', 'b') FROM t",
		"SELECT `load`, `lock` FROM t":                 "SELECT `load`, `lock` FROM t",
		"SELECT load, lock FROM servers":               "SELECT load, lock FROM servers",
		"SELECT `delete` FROM t":                       "SELECT `delete` FROM t",
	}
	for in, want := range allowed {
		got, err := GuardReadOnly(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	rejected := map[string]error{
		"":                                      ErrEmptyStatement,
		" ; ":                                   ErrEmptyStatement,
		"DELETE FROM orders":                    ErrNotReadOnly,
		"SELECT 1; DROP TABLE orders":           ErrMultipleStatement,
		"WITH t AS (SELECT 1) DELETE FROM t":    ErrNotReadOnly,
		"SELECT * FROM orders FOR UPDATE":       ErrNotReadOnly,
		"SELECT * INTO OUTFILE '/tmp/x' FROM t": ErrNotReadOnly,
		"/* hi */ UPDATE orders SET a = 1":      ErrNotReadOnly,
		"SHOW TABLES":                           ErrNotReadOnly,
		"REPLACE INTO t VALUES (1)":             ErrNotReadOnly,
		"SELECT * FROM t LOCK IN SHARE MODE":    ErrNotReadOnly,
	}
	for in, want := range rejected {
		_, err := GuardReadOnly(in)
		assert.ErrorIs(t, err, want, in)
	}
	_, err := GuardReadOnly("WITH t AS (SELECT 1) REPLACE INTO u SELECT * FROM t")
	assert.ErrorIs(t, err, ErrNotReadOnly)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{&mysql.MySQLError{Number: 1054, Message: "Unknown column 'x' in 'field list'"}, service.ExecCodeInvalidColumn},
		{fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1146}), service.ExecCodeInvalidTable},
		{&mysql.MySQLError{Number: 1064}, service.ExecCodeSyntax},
		{&mysql.MySQLError{Number: 1142}, service.ExecCodeDenied},
		{&mysql.MySQLError{Number: 1792}, service.ExecCodeReadOnly},
		{&mysql.MySQLError{Number: 3024}, service.ExecCodeTimeout},
		{context.DeadlineExceeded, service.ExecCodeTimeout},
		{driver.ErrBadConn, service.ExecCodeUnavailable},
		{ErrNotReadOnly, service.ExecCodeReadOnly},
		{errors.New("boom"), service.ExecCodeFailed},
	}
	for _, tc := range cases {
		got := Classify(tc.err)
		require.NotNil(t, got)
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
		assert.NotEmpty(t, got.Message)
		assert.NotContains(t, got.Message, "Unknown column")
		assert.ErrorIs(t, got, tc.err)
	}
	assert.Nil(t, Classify(nil))
}

func newSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Exec("CREATE TABLE orders (id INTEGER PRIMARY KEY, region TEXT, amount REAL)").Error)
	for i := 1; i <= 5; i++ {
		region := "EU"
		if i%2 == 0 {
			region = "US"
		}
		require.NoError(t, db.Exec("INSERT INTO orders (id, region, amount) VALUES (?, ?, ?)", i, region, float64(i)*10).Error)
	}
	return db
}

func TestGormExecutor(t *testing.T) {
	pool := NewPool(nil)
	pool.Register("sales_dw", newSQLite(t))
	exec := NewGormExecutor(pool, ExecutorOptions{PlainTx: true})
	ctx := context.Background()

	res, err := exec.Execute(ctx, "sales_dw", "SELECT SUM(amount) AS revenue FROM orders", 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 150, res.Rows[0][0])
	assert.Equal(t, 1, res.RowCount)
	assert.False(t, res.Truncated)

	res, err = exec.Execute(ctx, "sales_dw", "SELECT id, region FROM orders ORDER BY id", 2)
	require.NoError(t, err)
	assert.Len(t, res.Rows, 2)
	assert.Equal(t, 5, res.RowCount)
	assert.True(t, res.Truncated)
	assert.Equal(t, "EU", res.Rows[0][1])

	_, err = exec.Execute(ctx, "sales_dw", "DELETE FROM orders", 2)
	var ee *service.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, service.ExecCodeReadOnly, ee.Code)

	_, err = exec.Execute(ctx, "unknown", "SELECT 1", 2)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, service.ExecCodeUnknownSource, ee.Code)

	_, err = exec.Execute(ctx, "sales_dw", "SELECT nope FROM missing_table", 2)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, service.ExecCodeFailed, ee.Code)

	var count int64
	require.NoError(t, mustDB(t, pool).Raw("SELECT COUNT(*) FROM orders").Scan(&count).Error)
	assert.EqualValues(t, 5, count)
}

func mustDB(t *testing.T, p *Pool) *gorm.DB {
	db, err := p.DB(context.Background(), "sales_dw")
	require.NoError(t, err)
	return db
}

func TestPoolWithoutDSN(t *testing.T) {
	pool := NewPool([]config.DataSourceConfig{{ID: "empty"}})
	_, err := pool.DB(context.Background(), "empty")
	var ee *service.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, service.ExecCodeUnavailable, ee.Code)
}
