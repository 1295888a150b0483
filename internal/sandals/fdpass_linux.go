package sandals

import "golang.org/x/sys/unix"

// SendFds transfers fds to the peer of sock as a single SCM_RIGHTS
// ancillary message with a 1-byte payload, skipping the send entirely
// when there are no fds to pass.
func SendFds(sock int, fds []int) error {
	if len(fds) == 0 {
		return nil
	}
	rights := unix.UnixRights(fds...)
	return unix.Sendmsg(sock, []byte{0}, rights, nil, 0)
}

// RecvFds receives up to want fds sent by a prior SendFds call via
// recvmsg, ParseSocketControlMessage, and ParseUnixRights.
func RecvFds(sock int, want int) ([]int, []byte, error) {
	buf := make([]byte, PipeBufSize)
	oob := make([]byte, unix.CmsgSpace(want*4))

	n, oobn, _, _, err := unix.Recvmsg(sock, buf, oob, unix.MSG_CMSG_CLOEXEC)
	if err != nil {
		return nil, nil, err
	}
	if oobn == 0 {
		return nil, buf[:n], nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, nil, Internal(err, "parsing SCM_RIGHTS control message")
	}
	var fds []int
	for _, m := range msgs {
		got, err := unix.ParseUnixRights(&m)
		if err != nil {
			continue
		}
		fds = append(fds, got...)
	}
	return fds, buf[:n], nil
}
