//go:build linux

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

type ListenOptions struct {
	ReusePort bool
	Backlog   int
}

// ListenTCP opens a listening socket on addr.
// The socket is left blocking, accepts are issued through the ring.
func ListenTCP(network string, address string, options ListenOptions) (fd int, err error) {
	addr, addrErr := ResolveTCPAddr(network, address)
	if addrErr != nil {
		return -1, addrErr
	}
	family, sa := TCPAddrToSockaddr(addr)
	fd, err = unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	if err = setListenSockopts(fd, family, network, options); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("bind", err)
	}
	backlog := options.Backlog
	if backlog < 1 {
		backlog = unix.SOMAXCONN
	}
	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, os.NewSyscallError("listen", err)
	}
	return fd, nil
}

func setListenSockopts(fd int, family int, network string, options ListenOptions) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if options.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	if family == unix.AF_INET6 {
		v6only := 0
		if network == "tcp6" {
			v6only = 1
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			return os.NewSyscallError("setsockopt", err)
		}
	}
	return nil
}

// SetNoDelay toggles Nagle's algorithm on a connected socket.
func SetNoDelay(fd int, noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}
