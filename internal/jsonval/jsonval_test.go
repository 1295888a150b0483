package jsonval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} garbage`))
	require.Error(t, err)
}

func TestParseObjectAndGet(t *testing.T) {
	v, err := Parse([]byte(`{"cmd":["/bin/true"],"uid":1000}`))
	require.NoError(t, err)

	cmd := v.Get("cmd")
	require.NotNil(t, cmd)
	arr, err := cmd.AsStringArray()
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, arr)

	uid := v.Get("uid")
	require.NotNil(t, uid)
	n, err := uid.AsUDouble()
	require.NoError(t, err)
	assert.Equal(t, float64(1000), n)

	assert.Nil(t, v.Get("missing"))
}

func TestAsUDoubleRejectsNegative(t *testing.T) {
	v, err := Parse([]byte(`{"uid":-1}`))
	require.NoError(t, err)
	_, err = v.Get("uid").AsUDouble()
	assert.Error(t, err)
}

func TestErrorPathRendering(t *testing.T) {
	v, err := Parse([]byte(`{"mounts":[{"dest":5}]}`))
	require.NoError(t, err)

	mounts, err := v.Get("mounts").AsArray()
	require.NoError(t, err)
	_, err = mounts[0].Get("dest").AsString()
	require.Error(t, err)

	jerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, "mounts[0].dest", jerr.Path.String())
}

func TestUnknownKeyError(t *testing.T) {
	v, err := Parse([]byte(`{"bogus":1}`))
	require.NoError(t, err)
	kv, _ := v.AsObject()
	require.Len(t, kv, 1)
	uerr := Unknown(kv[0].Value)
	assert.Contains(t, uerr.Error(), "unknown key")
}
