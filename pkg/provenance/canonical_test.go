// Copyright 2025 AetherEngine
//
// Unit tests for canonical JSON

package provenance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeSortsKeysRecursively(t *testing.T) {
	in := []byte(`{"b":1,"a":{"z":true,"m":[{"y":2,"x":1}]}}`)
	out, err := Canonicalize(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"m":[{"x":1,"y":2}],"z":true},"b":1}`, string(out))
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	in := []byte(`{"delta":4,"alpha":[3,2,1],"nested":{"b":null,"a":"s"}}`)
	once, err := Canonicalize(in)
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice, "re-canonicalizing must be byte-identical")
}

func TestCanonicalizePreservesNumberText(t *testing.T) {
	out, err := Canonicalize([]byte(`{"n":1.50,"big":12345678901234567890}`))
	require.NoError(t, err)
	assert.Contains(t, string(out), "1.50")
	assert.Contains(t, string(out), "12345678901234567890")
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	out, err := Canonicalize([]byte(`{"a":[3,1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":[3,1,2]}`, string(out))
}

func TestCanonicalizeRejectsInvalidJSON(t *testing.T) {
	_, err := Canonicalize([]byte("not json"))
	assert.Error(t, err)
}
