package sandals

import (
	"time"

	"github.com/nestybox/sandals/internal/jsonval"
	"golang.org/x/sys/unix"
)

// slot indices for the fixed-prefix poll array.
const (
	slotMemoryEvents = iota
	slotPidsEvents
	slotTimer
	slotSpawner
	slotPipe0
)

// RunSupervisor drives the poll loop to completion and returns the
// final Response. The spawner's pid is read from spawnerPidCell, which
// the caller also hands to CgroupHandle.Remove. sinks must be indexed exactly as table
// orders its entries; only the first table.LiveLen() are polled until
// the loop enters exiting mode.
func RunSupervisor(spawnerSock, memoryEventsFd, pidsEventsFd int, timeLimit time.Duration, table *PipeTable, sinks []*Sink, spawnerPidCell *int) (Response, error) {
	sup := &supervisorLoop{
		spawnerSock: spawnerSock,
		table:       table,
		sinks:       sinks,
		memoryFd:    memoryEventsFd,
		pidsFd:      pidsEventsFd,
	}
	return sup.run(timeLimit, spawnerPidCell)
}

type supervisorLoop struct {
	spawnerSock int
	table       *PipeTable
	sinks       []*Sink
	memoryFd    int
	pidsFd      int
	timerFd     int
	exiting     bool
	spawnerDone bool
	spawnerBuf  []byte
	staged      *Response
}

func (s *supervisorLoop) run(timeLimit time.Duration, spawnerPidCell *int) (Response, error) {
	timerFd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return Response{}, Internal(err, "timerfd_create")
	}
	defer unix.Close(timerFd)
	s.timerFd = timerFd

	if timeLimit <= 0 {
		timeLimit = time.Nanosecond // zero means "as soon as possible", not "unlimited"
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(timeLimit.Nanoseconds())}
	if err := unix.TimerfdSettime(timerFd, 0, &spec, nil); err != nil {
		return Response{}, Internal(err, "timerfd_settime")
	}

	for {
		fds := s.buildPollFds()
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return Response{}, Internal(err, "poll")
		}
		if n == 0 {
			continue
		}

		if resp := s.checkMemoryEvents(fds, false); resp != nil {
			return s.finish(*resp, spawnerPidCell)
		}
		if resp := s.checkPidsEvents(fds, false); resp != nil {
			return s.finish(*resp, spawnerPidCell)
		}
		if resp := s.checkTimer(fds); resp != nil {
			return s.finish(*resp, spawnerPidCell)
		}
		if resp, done := s.checkSpawner(fds, spawnerPidCell); done {
			return s.finish(*resp, spawnerPidCell)
		}
		if resp := s.pumpSinks(fds); resp != nil {
			return s.finish(*resp, spawnerPidCell)
		}
	}
}

func (s *supervisorLoop) buildPollFds() []unix.PollFd {
	fds := make([]unix.PollFd, slotPipe0+len(s.sinks))
	fds[slotMemoryEvents] = pollFdOrIgnored(s.memoryFd, unix.POLLPRI)
	fds[slotPidsEvents] = pollFdOrIgnored(s.pidsFd, unix.POLLPRI)
	fds[slotTimer] = unix.PollFd{Fd: int32(s.timerFd), Events: unix.POLLIN}
	if s.spawnerDone {
		fds[slotSpawner] = unix.PollFd{Fd: -1}
	} else {
		fds[slotSpawner] = unix.PollFd{Fd: int32(s.spawnerSock), Events: unix.POLLIN}
	}
	limit := s.table.LiveLen()
	if s.exiting {
		limit = s.table.Len()
	}
	for i, sink := range s.sinks {
		if i >= limit {
			fds[slotPipe0+i] = unix.PollFd{Fd: -1}
			continue
		}
		fds[slotPipe0+i] = unix.PollFd{Fd: int32(sink.SrcFd), Events: unix.POLLIN}
	}
	return fds
}

func pollFdOrIgnored(fd int, events int16) unix.PollFd {
	if fd < 0 {
		return unix.PollFd{Fd: -1}
	}
	return unix.PollFd{Fd: int32(fd), Events: events}
}

// checkMemoryEvents reads memory.events and reports memoryLimit if
// oom_kill's counter is nonzero. With force set it reads the file
// unconditionally; otherwise it only reads when poll reported POLLPRI
// on this wakeup. force is needed once the spawner socket closes: the
// cgroup's own POLLPRI edge can arrive in a later wakeup than the
// spawner's EOF, and without an unconditional read here that race would
// let an OOM kill slip through misreported as a plain "killed".
func (s *supervisorLoop) checkMemoryEvents(fds []unix.PollFd, force bool) *Response {
	if s.memoryFd < 0 {
		return nil
	}
	if !force && fds[slotMemoryEvents].Revents&unix.POLLPRI == 0 {
		return nil
	}
	buf := make([]byte, PipeBufSize)
	n, _ := unix.Pread(s.memoryFd, buf, 0)
	if CgroupCounterNonZero(buf[:n], "oom_kill") {
		r := Response{Status: StatusMemoryLimit}
		return &r
	}
	return nil
}

// checkPidsEvents is checkMemoryEvents' counterpart for pids.events.
func (s *supervisorLoop) checkPidsEvents(fds []unix.PollFd, force bool) *Response {
	if s.pidsFd < 0 {
		return nil
	}
	if !force && fds[slotPidsEvents].Revents&unix.POLLPRI == 0 {
		return nil
	}
	buf := make([]byte, PipeBufSize)
	n, _ := unix.Pread(s.pidsFd, buf, 0)
	if CgroupCounterNonZero(buf[:n], "max") {
		r := Response{Status: StatusPidsLimit}
		return &r
	}
	return nil
}

func (s *supervisorLoop) checkTimer(fds []unix.PollFd) *Response {
	if fds[slotTimer].Revents&unix.POLLIN == 0 {
		return nil
	}
	r := Response{Status: StatusTimeLimit}
	return &r
}

// checkSpawner handles the fd-transfer protocol on the spawner socket:
// the first message carries the SCM_RIGHTS fd array, everything after
// is response payload, complete once it ends in '\n'.
func (s *supervisorLoop) checkSpawner(fds []unix.PollFd, spawnerPidCell *int) (*Response, bool) {
	if s.spawnerDone || fds[slotSpawner].Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
		return nil, false
	}
	fds_, payload, err := RecvFds(s.spawnerSock, s.table.Len())
	if err != nil {
		r := Response{Status: StatusInternalError, Description: err.Error()}
		s.spawnerDone = true
		return &r, true
	}
	if len(fds_) > 0 {
		for i, fd := range fds_ {
			if i < len(s.sinks) {
				s.sinks[i].SrcFd = fd
			}
		}
		return nil, false
	}
	if len(payload) == 0 {
		s.spawnerDone = true
		// Force a fresh read of the event files before accepting EOF as
		// an internalError, so an OOM kill racing the spawner's exit
		// isn't misreported.
		if resp := s.checkMemoryEvents(fds, true); resp != nil {
			return resp, true
		}
		if resp := s.checkPidsEvents(fds, true); resp != nil {
			return resp, true
		}
		r := Response{Status: StatusInternalError, Description: "spawner closed without a response"}
		return &r, true
	}
	s.spawnerBuf = append(s.spawnerBuf, payload...)
	if len(s.spawnerBuf) == 0 || s.spawnerBuf[len(s.spawnerBuf)-1] != '\n' {
		return nil, false
	}
	s.spawnerDone = true
	if resp := s.checkMemoryEvents(fds, true); resp != nil {
		return resp, true
	}
	if resp := s.checkPidsEvents(fds, true); resp != nil {
		return resp, true
	}
	resp, err := parseSpawnerResponse(s.spawnerBuf)
	if err != nil {
		r := Response{Status: StatusInternalError, Description: err.Error()}
		return &r, true
	}
	return &resp, true
}

// pumpSinks iterates pipe slots back-to-front, so that when multiple
// sinks simultaneously report limit-exceeded, the earliest-declared one
// wins.
func (s *supervisorLoop) pumpSinks(fds []unix.PollFd) *Response {
	limit := s.table.LiveLen()
	if s.exiting {
		limit = s.table.Len()
	}
	for i := limit - 1; i >= 0; i-- {
		pf := fds[slotPipe0+i]
		if pf.Fd < 0 {
			continue
		}
		if pf.Revents&(unix.POLLIN|unix.POLLHUP) == 0 {
			continue
		}
		sink := s.sinks[i]
		exceeded, _, err := sink.Pump()
		if err != nil {
			WithStage("supervisor").WithError(err).Warn("sink pump failed")
			continue
		}
		if exceeded {
			WithStage("supervisor").WithField("limit", describeLimit(sink.Limit)).
				Warnf("sink %s exceeded its output limit", sink.Label)
			r := Response{Status: StatusOutputLimit}
			return &r
		}
	}
	return nil
}

// finish enters exiting mode, kills the spawner, and drains every sink
// up to its remaining budget with no further polling.
func (s *supervisorLoop) finish(staged Response, spawnerPidCell *int) (Response, error) {
	s.exiting = true
	if spawnerPidCell != nil && *spawnerPidCell > 0 {
		unix.Kill(*spawnerPidCell, unix.SIGKILL)
	}
	for i := 0; i < s.table.Len(); i++ {
		sink := s.sinks[i]
		if sink == nil || sink.SrcFd < 0 {
			continue
		}
		for !sink.Exceeded() {
			_, eof, err := sink.Pump()
			if err != nil || eof {
				break
			}
		}
	}
	return staged, nil
}

// parseSpawnerResponse decodes the small JSON object P2 sends over the
// spawner socket, {"status":"exited","code":N}, {"status":"killed",
// "signal":"SIGxxx"}, or one of P2's own failure statuses, into the
// Response the supervisor stages. P2 renders this object with
// Response.Bytes(), so it shares both the wire format and the PIPE_BUF
// size ceiling of the final response.
func parseSpawnerResponse(buf []byte) (Response, error) {
	root, err := jsonval.Parse(buf)
	if err != nil {
		return Response{}, Internal(err, "parsing spawner response")
	}
	statusVal := root.Get("status")
	if statusVal == nil {
		return Response{}, Internal(nil, "spawner response missing 'status'")
	}
	status, err := statusVal.AsString()
	if err != nil {
		return Response{}, Internal(err, "spawner response 'status'")
	}
	r := Response{Status: Status(status)}
	switch r.Status {
	case StatusExited:
		if v := root.Get("code"); v != nil {
			n, _ := v.AsUDouble()
			r.Code = int(n)
		}
	case StatusKilled:
		if v := root.Get("signal"); v != nil {
			r.Signal, _ = v.AsString()
		}
	case StatusInternalError, StatusRequestInvalid:
		if v := root.Get("description"); v != nil {
			r.Description, _ = v.AsString()
		}
	}
	return r, nil
}
