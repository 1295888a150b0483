package sandals

// PipeTable is the combined, ordered sequence of output channels for one
// invocation: live pipes (regular + stdstreams) followed by copyFiles
// entries, with the live poll set sized to exclude the copyFiles tail.
type PipeTable struct {
	entries  []PipeSpec
	liveLen  int
	stdIndex int // index of the single stdstreams entry, or -1
}

// NewPipeTable builds the combined sequence from a Request. If
// req.StdStreams is non-nil, a synthetic stdstreams PipeSpec is appended among the live
// entries so it gets a poll slot alongside ordinary pipes.
func NewPipeTable(req *Request) *PipeTable {
	t := &PipeTable{stdIndex: -1}
	t.entries = append(t.entries, req.Pipes...)
	if req.StdStreams != nil {
		t.stdIndex = len(t.entries)
		t.entries = append(t.entries, PipeSpec{
			Dest:  req.StdStreams.Dest,
			Limit: req.StdStreams.Limit,
		})
	}
	t.liveLen = len(t.entries)
	t.entries = append(t.entries, req.CopyFiles...)
	return t
}

// Len returns the total number of output channels, live and copyFile.
func (t *PipeTable) Len() int { return len(t.entries) }

// LiveLen returns the number of channels the supervisor polls during
// normal operation, excluding copyFiles entries.
func (t *PipeTable) LiveLen() int { return t.liveLen }

// IsCopyFile reports whether entry i is a one-shot copyFiles entry,
// excluded from the live poll set and only drained once during exit.
func (t *PipeTable) IsCopyFile(i int) bool { return i >= t.liveLen }

// IsStdStreams reports whether entry i is the synthetic stdstreams slot.
func (t *PipeTable) IsStdStreams(i int) bool { return i == t.stdIndex }

// At returns the PipeSpec at index i.
func (t *PipeTable) At(i int) PipeSpec { return t.entries[i] }

// All returns the entries in order, for building fd arrays to send over
// SCM_RIGHTS.
func (t *PipeTable) All() []PipeSpec { return t.entries }
