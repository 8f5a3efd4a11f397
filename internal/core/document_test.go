package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateDocument(t *testing.T) {
	t.Run("seeded with persisted text", func(t *testing.T) {
		doc := NewStateDocument("hello")
		assert.Equal(t, "hello", doc.Text())
		assert.False(t, doc.IsEmpty())
		assert.Equal(t, []byte("hello"), doc.EncodeState())
	})

	t.Run("empty until first update", func(t *testing.T) {
		doc := NewStateDocument("")
		assert.True(t, doc.IsEmpty())

		require.NoError(t, doc.ApplyUpdate([]byte("x")))
		assert.False(t, doc.IsEmpty())
	})

	t.Run("update replaces full state", func(t *testing.T) {
		doc := NewStateDocument("old")
		require.NoError(t, doc.ApplyUpdate([]byte("new")))
		assert.Equal(t, "new", doc.Text())
	})

	t.Run("change listeners fire per update", func(t *testing.T) {
		doc := NewStateDocument("")
		fired := 0
		doc.OnChange(func() { fired++ })

		require.NoError(t, doc.ApplyUpdate([]byte("a")))
		require.NoError(t, doc.ApplyUpdate([]byte("b")))
		assert.Equal(t, 2, fired)
	})

	t.Run("encoded state is a copy", func(t *testing.T) {
		doc := NewStateDocument("abc")
		state := doc.EncodeState()
		state[0] = 'z'
		assert.Equal(t, "abc", doc.Text())
	})
}
