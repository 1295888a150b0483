package sandals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipeTableOrdersLiveBeforeCopyFiles(t *testing.T) {
	req := &Request{
		Pipes:     []PipeSpec{{Dest: "a"}, {Dest: "b"}},
		CopyFiles: []PipeSpec{{Dest: "c"}},
	}
	tbl := NewPipeTable(req)
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, 2, tbl.LiveLen())
	assert.False(t, tbl.IsCopyFile(0))
	assert.False(t, tbl.IsCopyFile(1))
	assert.True(t, tbl.IsCopyFile(2))
	assert.Equal(t, "c", tbl.At(2).Dest)
}

func TestPipeTableIncludesStdStreamsAmongLive(t *testing.T) {
	req := &Request{
		Pipes:      []PipeSpec{{Dest: "a"}},
		StdStreams: &StdStreams{Dest: "out", Limit: 10},
		CopyFiles:  []PipeSpec{{Dest: "c"}},
	}
	tbl := NewPipeTable(req)
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, 2, tbl.LiveLen())
	assert.True(t, tbl.IsStdStreams(1))
	assert.False(t, tbl.IsCopyFile(1))
	assert.True(t, tbl.IsCopyFile(2))
}

func TestPipeTableEmpty(t *testing.T) {
	tbl := NewPipeTable(&Request{})
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, 0, tbl.LiveLen())
}
