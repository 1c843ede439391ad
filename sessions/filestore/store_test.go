package filestore_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/sessions"
	"github.com/jrsteele09/go-connecteddrive/sessions/filestore"
)

func TestStore_MissingFileIsEmpty(t *testing.T) {
	store := filestore.New(filepath.Join(t.TempDir(), "nested", "tokens.json"))

	rec, err := store.Get(context.Background(), "acct")
	require.NoError(t, err)
	require.True(t, rec.IsZero())
}

func TestStore_UpdatePersistsPerAccount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := filestore.New(path)
	ctx := context.Background()

	require.NoError(t, store.Update(ctx, "a", func(rec *sessions.Record) error {
		rec.State = sessions.LoggedIn
		rec.Token = "enc-a"
		return nil
	}))
	require.NoError(t, store.Update(ctx, "b", func(rec *sessions.Record) error {
		rec.State = sessions.LoggedOut
		return nil
	}))

	reopened := filestore.New(path)
	a, err := reopened.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "enc-a", a.Token)
	b, err := reopened.Get(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, sessions.LoggedOut, b.State)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestStore_FailedUpdateWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	store := filestore.New(path)
	failure := errors.New("abort")

	err := store.Update(context.Background(), "a", func(rec *sessions.Record) error {
		rec.Token = "never"
		return failure
	})
	require.ErrorIs(t, err, failure)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := filestore.New(path).Get(context.Background(), "a")
	require.ErrorIs(t, err, apperrors.ErrStore)
}
