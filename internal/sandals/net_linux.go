package sandals

import (
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// ConfigureNet brings the loopback interface up and sets the hostname
// and domain name inside the new UTS/net namespaces. netlink.LinkSetUp
// replaces a raw SIOCGIFFLAGS/SIOCSIFFLAGS ioctl pair with the idiom
// used throughout the container-tooling ecosystem for the same
// operation.
func ConfigureNet(hostName, domainName string) error {
	lo, err := netlink.LinkByName("lo")
	if err != nil {
		return Internal(err, "looking up loopback interface")
	}
	if err := netlink.LinkSetUp(lo); err != nil {
		return Internal(err, "bringing up loopback interface")
	}

	if hostName != "" {
		if err := unix.Sethostname([]byte(hostName)); err != nil {
			return Internal(err, "sethostname")
		}
	}
	if domainName != "" {
		if err := unix.Setdomainname([]byte(domainName)); err != nil {
			return Internal(err, "setdomainname")
		}
	}
	return nil
}
