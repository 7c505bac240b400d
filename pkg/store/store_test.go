package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackends(t *testing.T) {
	ctx := context.Background()

	backends := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{
			name: "memory",
			open: func(t *testing.T) Store { return NewMemory() },
		},
		{
			name: "fs",
			open: func(t *testing.T) Store {
				st, err := NewFS(t.TempDir())
				require.NoError(t, err)
				return st
			},
		},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			t.Run("put get round trip", func(t *testing.T) {
				st := backend.open(t)

				require.NoError(t, st.Put(ctx, "users/u1/data/a.json", []byte("one")))
				data, err := st.Get(ctx, "users/u1/data/a.json")
				require.NoError(t, err)
				assert.Equal(t, []byte("one"), data)
			})

			t.Run("put replaces", func(t *testing.T) {
				st := backend.open(t)

				require.NoError(t, st.Put(ctx, "k", []byte("old")))
				require.NoError(t, st.Put(ctx, "k", []byte("new")))
				data, err := st.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []byte("new"), data)
			})

			t.Run("get missing", func(t *testing.T) {
				st := backend.open(t)

				_, err := st.Get(ctx, "users/nobody/model/model.gob")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("list by prefix sorted", func(t *testing.T) {
				st := backend.open(t)

				require.NoError(t, st.Put(ctx, "users/u1/data/incoming/b.json", nil))
				require.NoError(t, st.Put(ctx, "users/u1/data/incoming/a.json", nil))
				require.NoError(t, st.Put(ctx, "users/u2/data/incoming/c.json", nil))

				keys, err := st.List(ctx, "users/u1/data/incoming/")
				require.NoError(t, err)
				assert.Equal(t, []string{
					"users/u1/data/incoming/a.json",
					"users/u1/data/incoming/b.json",
				}, keys)
			})

			t.Run("list empty prefix", func(t *testing.T) {
				st := backend.open(t)

				keys, err := st.List(ctx, "users/")
				require.NoError(t, err)
				assert.Empty(t, keys)
			})
		})
	}
}

func TestMemoryIsolation(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()

	original := []byte("data")
	require.NoError(t, st.Put(ctx, "k", original))
	original[0] = 'X'

	stored, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), stored, "store must not alias caller buffers")
}
