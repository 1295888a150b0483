package sandals

import (
	"os"

	"golang.org/x/sys/unix"
)

// SinkKind distinguishes the output-plumbing transports.
type SinkKind int

const (
	SinkRegular SinkKind = iota
	SinkStdStreams
)

// Sink is the supervisor-side state for one output channel: a
// destination fd, a remaining byte budget, and the handler variant
// needed to pump data from SrcFd (or, for stdstreams, to recvfrom).
type Sink struct {
	Kind     SinkKind
	Dest     *os.File
	SrcFd    int
	Limit    int64
	Written  int64
	NoSplice bool // downgraded after a splice() EINVAL
	Label    string
}

// Exceeded reports whether this sink has used its entire budget.
func (s *Sink) Exceeded() bool { return s.Written >= s.Limit }

// Pump performs one attempt to move data from the source to the
// destination. A transfer that lands exactly on the byte budget does
// not report exceeded; exceeded only fires once more bytes arrive after
// the budget is already used up, so a source written with exactly the
// limit's worth of bytes never trips outputLimit.
func (s *Sink) Pump() (exceeded bool, eof bool, err error) {
	switch s.Kind {
	case SinkStdStreams:
		return s.pumpStdStreams()
	default:
		return s.pumpRegular()
	}
}

func (s *Sink) pumpRegular() (exceeded, eof bool, err error) {
	remaining := s.Limit - s.Written
	if remaining <= 0 {
		// The budget is already spent. Drain and discard one probe read
		// so the writer doesn't block forever on a full pipe; exceeded
		// only fires here, on data seen after the limit, never on the
		// transfer that brought Written up to exactly Limit.
		var probe [1]byte
		n, _ := unix.Read(s.SrcFd, probe[:])
		return n > 0, n == 0, nil
	}

	if !s.NoSplice {
		n, serr := unix.Splice(s.SrcFd, nil, int(s.Dest.Fd()), nil, int(remaining), unix.SPLICE_F_NONBLOCK)
		switch serr {
		case nil:
			if n == 0 {
				return false, true, nil
			}
			s.Written += n
			return false, false, nil
		case unix.EINVAL:
			s.NoSplice = true
			// fall through to read+write below
		case unix.EAGAIN:
			return false, false, nil
		default:
			return false, false, Internal(serr, "splice to %s", s.Label)
		}
	}

	buf := make([]byte, PipeBufSize)
	max := int64(len(buf))
	if remaining < max {
		max = remaining
	}
	n, rerr := unix.Read(s.SrcFd, buf[:max])
	if rerr == unix.EAGAIN {
		return false, false, nil
	}
	if rerr != nil {
		return false, false, Internal(rerr, "reading %s", s.Label)
	}
	if n == 0 {
		return false, true, nil
	}
	if err := writeAllChecked(s.Dest, buf[:n]); err != nil {
		return false, false, err
	}
	s.Written += int64(n)
	return false, false, nil
}

// pumpStdStreams receives one datagram, classifies its peer address,
// frames it, and writes the frame to the destination. Datagrams from an
// unrecognized peer are dropped silently and no retry is attempted
// within the same wakeup.
func (s *Sink) pumpStdStreams() (exceeded, eof bool, err error) {
	buf := make([]byte, PipeBufSize)
	n, from, rerr := unix.Recvfrom(s.SrcFd, buf, unix.MSG_DONTWAIT)
	if rerr == unix.EAGAIN {
		return false, false, nil
	}
	if rerr != nil {
		return false, false, Internal(rerr, "recvfrom %s", s.Label)
	}
	sa, ok := from.(*unix.SockaddrUnix)
	if !ok {
		return false, false, nil
	}
	stderr, known := ClassifyStdStreamPeer(sa.Name)
	if !known {
		return false, false, nil
	}

	remaining := s.Limit - s.Written
	if remaining <= 0 {
		// The budget is already spent; this datagram is the overrun.
		return true, false, nil
	}

	framed := FrameStdStream(buf[:n], stderr)
	if int64(len(framed)) > remaining {
		writeAllChecked(s.Dest, framed[:remaining])
		s.Written = s.Limit
		return true, false, nil
	}
	if err := writeAllChecked(s.Dest, framed); err != nil {
		return false, false, err
	}
	s.Written += int64(len(framed))
	return false, false, nil
}

// writeAllChecked retries short writes until the buffer is fully
// written or an error occurs. Destination files are opened blocking on
// purpose, so a short write here means a real error rather than a full
// pipe.
func writeAllChecked(f *os.File, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.Write(buf)
		if err != nil {
			return Internal(err, "writing output")
		}
		buf = buf[n:]
	}
	return nil
}
