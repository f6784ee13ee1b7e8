package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToken_Expired(t *testing.T) {
	now := time.Date(2023, time.May, 4, 12, 0, 0, 0, time.UTC)

	token := NewToken(now.Add(10*time.Minute), "alice")

	assert.False(t, token.Expired(now))
	assert.False(t, token.Expired(token.Expiry.Add(-time.Nanosecond)))

	// the expiry instant itself is already invalid
	assert.True(t, token.Expired(token.Expiry))
	assert.True(t, token.Expired(token.Expiry.Add(time.Hour)))
}

func TestToken_Attribute(t *testing.T) {
	token := NewToken(time.Now(), "alice")
	token.Attributes[AttributePerms] = "rwd"

	perms, ok := token.Attribute(AttributePerms)

	assert.True(t, ok)
	assert.Equal(t, "rwd", perms)

	_, ok = token.Attribute(AttributePath)

	assert.False(t, ok)
}

func TestToken_Clone(t *testing.T) {
	token := NewToken(time.Now(), "alice")
	token.Attributes[AttributePerms] = "r"

	clone := token.Clone()
	clone.Attributes[AttributePerms] = "rwd"

	assert.Equal(t, "r", token.Attributes[AttributePerms])
}
