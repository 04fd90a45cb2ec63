package reference

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	key := uuid.NewString()
	token := Encode("dynamodb", "stash-items", key)

	ref, ok := Parse(token)
	require.True(t, ok)
	assert.Equal(t, "dynamodb", ref.Backend)
	assert.Equal(t, "stash-items", ref.Location)
	assert.Equal(t, key, ref.Key)
	assert.Equal(t, token, ref.String())
}

func TestParseRejectsOrdinaryContent(t *testing.T) {
	// Realistic payload strings must never parse as references.
	corpus := []string{
		"",
		"hello world",
		"user@example.com",
		"@mentions are common in chat payloads",
		"@content",
		"@content:",
		"@content:dynamodb",
		"@content:dynamodb:table",
		"@content:dynamodb:table:",
		"@content::table:" + uuid.NewString(),
		"@content:dynamodb::" + uuid.NewString(),
		"@content:dynamodb:table:not-a-uuid",
		"@Content:dynamodb:table:" + uuid.NewString(), // prefix is case sensitive
		"https://example.com/@content:stuff",
		`{"json": "blob"}`,
		strings.Repeat("x", 1024),
	}

	for _, s := range corpus {
		_, ok := Parse(s)
		assert.False(t, ok, "parsed %q as a reference", s)
	}
}

func TestParseAcceptsEveryEncodedToken(t *testing.T) {
	for range 100 {
		token := Encode("s3", "stash-bucket", NewKey())
		_, ok := Parse(token)
		require.True(t, ok, "failed to parse own token %q", token)
	}
}

func TestNewKeyIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		k := NewKey()
		require.False(t, seen[k])
		seen[k] = true
	}
}

func TestValidate(t *testing.T) {
	ref := Ref{Backend: "redis", Location: "items", Key: NewKey()}

	assert.NoError(t, ref.Validate("redis", "items"))
	assert.Error(t, ref.Validate("dynamodb", "items"))
	assert.Error(t, ref.Validate("redis", "other"))
}
