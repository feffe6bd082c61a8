package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/halflife/storage"
)

func TestStore_WriteAndRead(t *testing.T) {
	s := NewStore()

	require.NoError(t, s.Write("fragments/a", []byte("ciphertext")))

	data, err := s.Read("fragments/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)

	_, err = s.Read("fragments/missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_ReadReturnsCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Write("fragments/a", []byte("ciphertext")))

	data, err := s.Read("fragments/a")
	require.NoError(t, err)
	data[0] = 'X'

	again, err := s.Read("fragments/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), again)
}

func TestStore_SecureOverwrite(t *testing.T) {
	s := NewStore()
	original := []byte("ciphertext that must disappear")
	require.NoError(t, s.Write("fragments/a", original))

	require.NoError(t, s.SecureOverwrite("fragments/a", 3))

	data, err := s.Read("fragments/a")
	require.NoError(t, err)
	assert.Len(t, data, len(original))
	assert.NotEqual(t, original, data)

	require.ErrorIs(t, s.SecureOverwrite("fragments/missing", 3), storage.ErrNotFound)
}

func TestStore_Delete(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Write("fragments/a", []byte("ciphertext")))

	require.NoError(t, s.Delete("fragments/a"))
	_, err := s.Read("fragments/a")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.ErrorIs(t, s.Delete("fragments/a"), storage.ErrNotFound)
}
