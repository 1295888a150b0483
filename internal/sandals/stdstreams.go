package sandals

import "encoding/binary"

// Abstract socket address names for the three stdstreams endpoints: one
// supervisor-facing socket plus one per child stream, distinguished by
// well-known abstract addresses. The leading '@' is the
// golang.org/x/sys/unix convention for binding into the Linux abstract
// socket namespace (sun_path[0] = 0) rather than creating a
// filesystem-backed socket node.
const (
	StdStreamsSupervisorAddr = "@sandals-stdstreams-supervisor"
	StdStreamsStdoutAddr     = "@sandals-stdstreams-stdout"
	StdStreamsStderrAddr     = "@sandals-stdstreams-stderr"
)

// stderrBit is the high bit of the 4-byte big-endian length prefix that
// marks a framed record as originating from stderr rather than stdout.
const stderrBit = uint32(1) << 31

// FrameStdStream prepends the wire-format 4-byte big-endian length
// prefix to a received datagram, setting the high bit for stderr. The
// length itself never legitimately needs the high bit: a single
// datagram is bounded well under 2^31 bytes.
func FrameStdStream(payload []byte, stderr bool) []byte {
	n := uint32(len(payload))
	if stderr {
		n |= stderrBit
	}
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out, n)
	copy(out[4:], payload)
	return out
}

// ClassifyStdStreamPeer maps a sender's abstract-socket address to a
// stream, returning ok=false for any address that is not one of the two
// known child-facing sockets. Datagrams from an unrecognized peer are
// dropped silently by the caller.
func ClassifyStdStreamPeer(addr string) (stderr bool, ok bool) {
	switch addr {
	case StdStreamsStdoutAddr:
		return false, true
	case StdStreamsStderrAddr:
		return true, true
	default:
		return false, false
	}
}
