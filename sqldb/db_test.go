package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	beginTxErr error
	tx         *fakeTx
}

func (f *fakeDB) BeginTx(_ context.Context, _ *sql.TxOptions) (Tx, error) {
	if f.beginTxErr != nil {
		return nil, f.beginTxErr
	}
	return f.tx, nil
}

func (f *fakeDB) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	return nil, nil
}

func (f *fakeDB) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, nil
}

type fakeTx struct {
	commitErr   error
	rollbackErr error

	committed  bool
	rolledBack bool
}

func (f *fakeTx) ExecContext(_ context.Context, _ string, _ ...any) (sql.Result, error) {
	return nil, nil
}

func (f *fakeTx) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, nil
}

func (f *fakeTx) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

func (f *fakeTx) Commit() error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback() error {
	f.rolledBack = true
	return f.rollbackErr
}

func TestWithTxCommits(t *testing.T) {
	tx := &fakeTx{}
	db := &fakeDB{tx: tx}

	err := WithTx(context.Background(), db, func(_ context.Context, _ TxQueryer) error {
		return nil
	})

	require.NoError(t, err)
	require.True(t, tx.committed)
	require.False(t, tx.rolledBack)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	tx := &fakeTx{}
	db := &fakeDB{tx: tx}
	workErr := errors.New("any error")

	err := WithTx(context.Background(), db, func(_ context.Context, _ TxQueryer) error {
		return workErr
	})

	require.ErrorIs(t, err, workErr)
	require.False(t, tx.committed)
	require.True(t, tx.rolledBack)
}

func TestWithTxJoinsRollbackError(t *testing.T) {
	tx := &fakeTx{rollbackErr: errors.New("rollback failed")}
	db := &fakeDB{tx: tx}
	workErr := errors.New("any error")

	err := WithTx(context.Background(), db, func(_ context.Context, _ TxQueryer) error {
		return workErr
	})

	require.ErrorIs(t, err, workErr)
	require.ErrorIs(t, err, tx.rollbackErr)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	tx := &fakeTx{}
	db := &fakeDB{tx: tx}

	require.Panics(t, func() {
		_ = WithTx(context.Background(), db, func(_ context.Context, _ TxQueryer) error {
			panic("boom")
		})
	})
	require.True(t, tx.rolledBack)
	require.False(t, tx.committed)
}

func TestWithTxErrorOnBegin(t *testing.T) {
	tx := &fakeTx{}
	db := &fakeDB{beginTxErr: errors.New("failed to begin transaction"), tx: tx}

	err := WithTx(context.Background(), db, func(_ context.Context, _ TxQueryer) error {
		t.Fatal("should not be called")
		return nil
	})

	require.ErrorIs(t, err, db.beginTxErr)
	require.False(t, tx.rolledBack)
}

func TestWithTxErrorOnCommit(t *testing.T) {
	tx := &fakeTx{commitErr: errors.New("failed to commit transaction")}
	db := &fakeDB{tx: tx}

	err := WithTx(context.Background(), db, func(_ context.Context, _ TxQueryer) error {
		return nil
	})

	require.ErrorIs(t, err, tx.commitErr)
	require.True(t, tx.rolledBack)
}
