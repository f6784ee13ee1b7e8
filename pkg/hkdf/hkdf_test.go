package hkdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	masterKey := []byte("0123456789abcdef0123456789abcdef")

	t.Run("Deterministic", func(t *testing.T) {
		key1, err := Expand(masterKey, "token-encryption-key", 32)
		require.NoError(t, err)

		key2, err := Expand(masterKey, "token-encryption-key", 32)
		require.NoError(t, err)

		assert.Len(t, key1, 32)
		assert.Equal(t, key1, key2)
	})

	t.Run("ContextSeparation", func(t *testing.T) {
		encKey, err := Expand(masterKey, "token-encryption-key", 32)
		require.NoError(t, err)

		macKey, err := Expand(masterKey, "macaroon-signing-key", 32)
		require.NoError(t, err)

		assert.NotEqual(t, encKey, macKey)
	})

	t.Run("LongOutput", func(t *testing.T) {
		key, err := Expand(masterKey, "long", 100)
		require.NoError(t, err)

		assert.Len(t, key, 100)

		// The first blocks do not depend on the requested size.
		short, err := Expand(masterKey, "long", 32)
		require.NoError(t, err)

		assert.Equal(t, short, key[:32])
	})

	t.Run("SizeBound", func(t *testing.T) {
		_, err := Expand(masterKey, "too-much", MaxOutputSize+1)
		require.Error(t, err)

		key, err := Expand(masterKey, "max", MaxOutputSize)
		require.NoError(t, err)
		assert.Len(t, key, MaxOutputSize)
	})

	t.Run("InvalidSize", func(t *testing.T) {
		_, err := Expand(masterKey, "zero", 0)
		require.Error(t, err)

		_, err = Expand(masterKey, "negative", -1)
		require.Error(t, err)
	})
}
