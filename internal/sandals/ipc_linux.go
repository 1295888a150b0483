package sandals

// PayloadSpec is what P2 hands P3 across the exec boundary: P3 cannot
// inherit P2's parsed Request (it is a fresh process image), so the
// slice of fields P3 actually needs travels across a small pipe as a
// gob-encoded value instead.
type PayloadSpec struct {
	Argv          []string
	Env           []string
	SeccompPolicy string
}

// execErrnoSize is the width of the exec_errno cell: one 64-bit word is
// enough to carry any errno value, written once by P3 before _exit on a
// failed execve.
const execErrnoSize = 8
