package stubd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit/tracetest/internal/tracing"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := OpenRegistry(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_CreateAndGet(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Create("alpha"))

	row, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", row.Name)
	assert.False(t, row.Active)
	assert.Equal(t, tracing.RotationNone, row.RotationState)
	assert.Empty(t, row.ArchivePath)
}

func TestRegistry_CreateCollision(t *testing.T) {
	r := openTestRegistry(t)

	require.NoError(t, r.Create("alpha"))
	require.ErrorIs(t, r.Create("alpha"), ErrSessionExists)
}

func TestRegistry_GetMissing(t *testing.T) {
	r := openTestRegistry(t)

	_, err := r.Get("ghost")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistry_SetActive(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Create("alpha"))

	require.NoError(t, r.SetActive("alpha", true))
	row, err := r.Get("alpha")
	require.NoError(t, err)
	assert.True(t, row.Active)

	require.NoError(t, r.SetActive("alpha", false))
	row, err = r.Get("alpha")
	require.NoError(t, err)
	assert.False(t, row.Active)

	require.ErrorIs(t, r.SetActive("ghost", true), ErrSessionNotFound)
}

func TestRegistry_SetRotation(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Create("alpha"))

	require.NoError(t, r.SetRotation("alpha", tracing.RotationOngoing, ""))
	row, err := r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, tracing.RotationOngoing, row.RotationState)

	require.NoError(t, r.SetRotation("alpha", tracing.RotationCompleted, "/tmp/archive"))
	row, err = r.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, tracing.RotationCompleted, row.RotationState)
	assert.Equal(t, "/tmp/archive", row.ArchivePath)
}

func TestRegistry_DeleteAndList(t *testing.T) {
	r := openTestRegistry(t)
	require.NoError(t, r.Create("beta"))
	require.NoError(t, r.Create("alpha"))

	rows, err := r.List()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha", rows[0].Name)
	assert.Equal(t, "beta", rows[1].Name)

	require.NoError(t, r.Delete("alpha"))
	rows, err = r.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "beta", rows[0].Name)

	require.ErrorIs(t, r.Delete("alpha"), ErrSessionNotFound)
}
