package sandals

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadRequestMinimal(t *testing.T) {
	req, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/true"}, req.Cmd)
	assert.Equal(t, "/", req.Chroot)
	assert.True(t, req.VARandomize)
}

func TestReadRequestMissingCmd(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{}`))
	require.Error(t, err)
	fail := AsFail(err)
	assert.Equal(t, StatusRequestInvalid, fail.Status)
}

func TestReadRequestEmptyCmd(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{"cmd":[]}`))
	require.Error(t, err)
	assert.Equal(t, StatusRequestInvalid, AsFail(err).Status)
}

func TestReadRequestUnknownKey(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"bogus":1}`))
	require.Error(t, err)
	assert.Equal(t, StatusRequestInvalid, AsFail(err).Status)
}

func TestReadRequestTimeLimitSplitsFraction(t *testing.T) {
	req, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"timeLimit":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, req.TimeLimit)
}

func TestReadRequestUidTooBig(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"uid":1e20}`))
	require.Error(t, err)
}

func TestReadRequestStdStreamsRequiresDest(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"stdStreams":{"limit":10}}`))
	require.Error(t, err)
}

func TestReadRequestBindMountRequiresSrc(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"mounts":[{"type":"bind","dest":"/x"}]}`))
	require.Error(t, err)
}

func TestReadRequestMountDefaultsSrcToType(t *testing.T) {
	req, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"mounts":[{"type":"proc","dest":"/proc"}]}`))
	require.NoError(t, err)
	require.Len(t, req.Mounts, 1)
	assert.Equal(t, "proc", req.Mounts[0].Src)
}

func TestReadRequestPipeDefaultsLimitUnbounded(t *testing.T) {
	req, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"],"pipes":[{"dest":"out"}]}`))
	require.NoError(t, err)
	require.Len(t, req.Pipes, 1)
	assert.Greater(t, req.Pipes[0].Limit, int64(1<<40))
}

func TestReadRequestRejectsTrailingGarbage(t *testing.T) {
	_, err := ReadRequest(strings.NewReader(`{"cmd":["/bin/true"]} trailing`))
	require.Error(t, err)
}
