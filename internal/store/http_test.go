package store

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPRepo(t *testing.T, authToken, clientToken string) *HTTPRepo {
	t.Helper()
	srv := NewServer(t.TempDir(), authToken, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	repo, err := NewHTTPRepo(ts.URL, "test-ns", clientToken)
	require.NoError(t, err)
	return repo
}

func TestHTTPRepo_RoundTrip(t *testing.T) {
	repo := newTestHTTPRepo(t, "", "")
	ctx := context.Background()

	require.NoError(t, repo.EnsureNamespace(ctx))
	require.NoError(t, repo.EnsureNamespace(ctx))

	created, err := repo.CreateRecord(ctx, "1", []byte("hello"), false)
	require.NoError(t, err)
	assert.True(t, created)

	names, err := repo.ListRecordNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, names)

	data, err := repo.ReadRecord(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	require.NoError(t, repo.DeleteRecord(ctx, "1", true))

	names, err = repo.ListRecordNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestHTTPRepo_ConditionalCreateConflict(t *testing.T) {
	repo := newTestHTTPRepo(t, "", "")
	ctx := context.Background()
	require.NoError(t, repo.EnsureNamespace(ctx))

	created, err := repo.CreateRecord(ctx, "1", []byte("first"), false)
	require.NoError(t, err)
	require.True(t, created)

	// The 412 comes back as the race signal, not an error.
	created, err = repo.CreateRecord(ctx, "1", []byte("second"), false)
	require.NoError(t, err)
	assert.False(t, created)

	data, err := repo.ReadRecord(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)
}

func TestHTTPRepo_Overwrite(t *testing.T) {
	repo := newTestHTTPRepo(t, "", "")
	ctx := context.Background()
	require.NoError(t, repo.EnsureNamespace(ctx))

	_, err := repo.CreateRecord(ctx, "1", []byte("v1"), false)
	require.NoError(t, err)

	created, err := repo.CreateRecord(ctx, "1", []byte("v2"), true)
	require.NoError(t, err)
	assert.True(t, created)

	data, err := repo.ReadRecord(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestHTTPRepo_Auth(t *testing.T) {
	// Wrong token: every call fails with ErrUnauthorized.
	repo := newTestHTTPRepo(t, "secret", "wrong")
	err := repo.EnsureNamespace(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	// Right token: works.
	repo = newTestHTTPRepo(t, "secret", "secret")
	assert.NoError(t, repo.EnsureNamespace(context.Background()))
}

func TestHTTPRepo_ReadAbsentRecord(t *testing.T) {
	repo := newTestHTTPRepo(t, "", "")
	ctx := context.Background()
	require.NoError(t, repo.EnsureNamespace(ctx))

	_, err := repo.ReadRecord(ctx, "99")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestHTTPRepo_DeleteAbsentRecord(t *testing.T) {
	repo := newTestHTTPRepo(t, "", "")
	ctx := context.Background()
	require.NoError(t, repo.EnsureNamespace(ctx))

	assert.NoError(t, repo.DeleteRecord(ctx, "99", true))
}

func TestHTTPRepo_ValidatesNamesLocally(t *testing.T) {
	repo := newTestHTTPRepo(t, "", "")
	ctx := context.Background()

	_, err := repo.CreateRecord(ctx, "", []byte("x"), false)
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = repo.ReadRecord(ctx, "a/b")
	assert.ErrorIs(t, err, ErrInvalidName)

	err = repo.DeleteRecord(ctx, "_meta.json", false)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestNewHTTPRepo_RejectsInvalidNamespace(t *testing.T) {
	_, err := NewHTTPRepo("http://localhost:1", "a/b", "")
	assert.ErrorIs(t, err, ErrInvalidName)
}
