package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:dbx_tests?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS checkpoints (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM checkpoints`)
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM checkpoints`).Scan(&n))
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO checkpoints(v) VALUES ('ok')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, db), "must commit on success")
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO checkpoints(v) VALUES ('fail')`)
		require.NoError(t, e)
		return errors.New("boom")
	})
	require.Error(t, err)

	require.Equal(t, 0, countRows(t, db), "must rollback when fn returns error")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countRows(t, db), "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO checkpoints(v) VALUES ('panic')`)
		require.NoError(t, e)
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err, "begin should fail when DB is closed")
}

func TestSavepoint_RollsBackOnlyFailedWork(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		for _, v := range []string{"a", "bad", "c"} {
			err := Savepoint(ctx, tx, "row", func() error {
				if _, err := tx.ExecContext(ctx, `INSERT INTO checkpoints(v) VALUES (?)`, v); err != nil {
					return err
				}
				if v == "bad" {
					return errors.New("rejected")
				}
				return nil
			})
			if v == "bad" {
				require.EqualError(t, err, "rejected")
				require.NotErrorIs(t, err, ErrTxAborted)
				continue
			}
			require.NoError(t, err)
		}
		return nil
	})
	require.NoError(t, err)

	var vals []string
	rows, err := db.Query(`SELECT v FROM checkpoints ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		vals = append(vals, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"a", "c"}, vals)
}

func TestSavepoint_FailedRollbackAbortsTx(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return Savepoint(ctx, tx, "row", func() error {
			// releasing early makes the rollback target disappear
			_, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT row`)
			require.NoError(t, err)
			return errors.New("rejected")
		})
	})
	require.ErrorIs(t, err, ErrTxAborted)
	require.ErrorContains(t, err, "rejected")
}

func TestChunks(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	var offsets []int
	var sizes []int
	err := Chunks(items, 3, func(offset int, chunk []int) error {
		offsets = append(offsets, offset)
		sizes = append(sizes, len(chunk))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3, 6}, offsets)
	assert.Equal(t, []int{3, 3, 1}, sizes)
}

func TestChunks_StopsOnError(t *testing.T) {
	calls := 0
	err := Chunks([]int{1, 2, 3, 4}, 2, func(int, []int) error {
		calls++
		return errors.New("stop")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestChunks_NonPositiveSize(t *testing.T) {
	calls := 0
	require.NoError(t, Chunks([]string{"a", "b"}, 0, func(_ int, c []string) error {
		calls++
		assert.Len(t, c, 2)
		return nil
	}))
	assert.Equal(t, 1, calls)

	require.NoError(t, Chunks([]string{}, 5, func(int, []string) error {
		t.Fatal("no chunks expected for empty input")
		return nil
	}))
}
