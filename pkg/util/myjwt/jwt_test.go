package myjwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	opts := Options{Key: "secret", Issuer: "InsightLink", ExpireHours: 1}
	tok, err := GenerateTokenWith(opts, "U1001", "alice")
	require.NoError(t, err)

	claims, err := ParseTokenWith("secret", tok)
	require.NoError(t, err)
	assert.Equal(t, "U1001", claims.Uuid)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "InsightLink", claims.Issuer)
}

func TestParseRejectsWrongKey(t *testing.T) {
	tok, err := GenerateTokenWith(Options{Key: "secret"}, "U1001", "alice")
	require.NoError(t, err)

	_, err = ParseTokenWith("other", tok)
	assert.Error(t, err)
}

func TestEmptyKey(t *testing.T) {
	_, err := GenerateTokenWith(Options{}, "U1001", "alice")
	assert.Error(t, err)
	_, err = ParseTokenWith("", "x.y.z")
	assert.Error(t, err)
}
