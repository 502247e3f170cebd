package kernelchan

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// NetlinkTransport speaks to the kernel page-walk collaborator over a raw
// AF_NETLINK socket bound to the controller's own process identity, the
// same mechanism the original ctl-placement.c uses against
// PF_NETLINK/NETLINK_USER.
type NetlinkTransport struct {
	fd         int
	maxPayload int
}

// DialNetlink opens and binds a raw netlink socket on the given protocol
// family.
func DialNetlink(family int, maxPayload int) (*NetlinkTransport, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, family)
	if err != nil {
		return nil, fmt.Errorf("kernelchan: socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Pid:    uint32(os.Getpid()),
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("kernelchan: bind: %w", err)
	}

	if maxPayload <= 0 {
		maxPayload = 4096
	}

	return &NetlinkTransport{fd: fd, maxPayload: maxPayload}, nil
}

// Send writes payload to the kernel collaborator (netlink pid 0).
func (t *NetlinkTransport) Send(payload []byte) error {
	dst := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0}
	if err := unix.Sendto(t.fd, payload, 0, dst); err != nil {
		return fmt.Errorf("kernelchan: sendto: %w", err)
	}
	return nil
}

// Recv reads one response packet and splits it into its 16-byte header
// and candidate-record payload.
func (t *NetlinkTransport) Recv() (packetTypeOut uint32, flags uint32, payload []byte, err error) {
	buf := make([]byte, t.maxPayload)
	n, _, recvErr := unix.Recvfrom(t.fd, buf, 0)
	if recvErr != nil {
		return 0, 0, nil, fmt.Errorf("kernelchan: recvfrom: %w", recvErr)
	}

	hdr, err := unmarshalResponseHeader(buf[:n])
	if err != nil {
		return 0, 0, nil, err
	}

	return uint32(hdr.Type), hdr.Flags, buf[responseHeaderSize:n], nil
}

// Close closes the underlying socket.
func (t *NetlinkTransport) Close() error {
	return unix.Close(t.fd)
}
