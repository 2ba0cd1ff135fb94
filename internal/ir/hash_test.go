package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryFingerprintIgnoresMapOrder(t *testing.T) {
	first := IRObject{}
	first["sql"] = IRString("SELECT 1")
	first["params"] = IRArray{IRInt(1)}
	first["args"] = StringMap(map[string]string{"a": "1", "b": "2", "c": "3"})

	second := NewIRObject(
		O("args", StringMap(map[string]string{"c": "3", "b": "2", "a": "1"})),
		O("params", IRArray{IRInt(1)}),
		O("sql", IRString("SELECT 1")),
	)

	h1, err := QueryFingerprint(first)
	require.NoError(t, err)
	h2, err := QueryFingerprint(second)
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashDomainSeparation(t *testing.T) {
	doc := IRObject{"path": IRString("country")}

	fp, err := Hash(DomainFingerprint, doc)
	require.NoError(t, err)
	memo, err := MemoKey(doc)
	require.NoError(t, err)

	assert.NotEqual(t, fp, memo)
}

func TestJoinAliasHashIsShortAndStable(t *testing.T) {
	doc := IRObject{
		"path": IRString("playerStats.country"),
		"on":   IRString("{{$country_id}} = {{country.$id}}"),
	}

	a, err := JoinAliasHash(doc)
	require.NoError(t, err)
	b, err := JoinAliasHash(doc)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 10)

	doc["on"] = IRString("{{$country_id}} = {{country.$id}} AND 1 = 1")
	c, err := JoinAliasHash(doc)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestHashRejectsNull(t *testing.T) {
	_, err := QueryFingerprint(IRObject{"x": IRNull{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), DomainFingerprint)
}

// Pins the alias of the playerStats -> country join so that generated SQL
// stays byte-stable across releases.
func TestJoinAliasHashKnownValue(t *testing.T) {
	h, err := JoinAliasHash(NewIRObject(
		O("join", IRString("country")),
		O("on", IRString("{{$country_id}} = {{country.$id}}")),
		O("parent", IRString("playerStats")),
		O("source", IRString("countries")),
	))
	require.NoError(t, err)
	assert.Equal(t, "1e3b6424de", h)
}
