//go:build linux

package sys

import (
	"net"
	"strings"

	"github.com/brickingsoft/errors"
	"golang.org/x/sys/unix"
)

var (
	ErrInvalidAddress = errors.Define("address is invalid")
	ErrInvalidNetwork = errors.Define("network is invalid")
)

// ResolveTCPAddr resolves address for a listening socket.
// An empty host listens on the IPv6 wildcard, which also accepts IPv4 unless network ends with 6.
func ResolveTCPAddr(network string, address string) (addr *net.TCPAddr, err error) {
	address = strings.TrimSpace(address)
	if address == "" {
		err = errors.From(ErrInvalidAddress)
		return
	}
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		err = errors.From(ErrInvalidNetwork)
		return
	}
	addr, err = net.ResolveTCPAddr(network, address)
	if err != nil {
		err = errors.From(ErrInvalidAddress, errors.WithWrap(err))
		return
	}
	ipv6only := strings.HasSuffix(network, "6")
	if len(addr.IP) == 0 {
		if network == "tcp4" {
			addr.IP = net.IPv4zero
		} else {
			addr.IP = net.IPv6zero
		}
	}
	if !ipv6only && addr.IP.Equal(net.IPv4zero) && network != "tcp4" {
		addr.IP = net.IPv6zero
	}
	if !ipv6only && addr.AddrPort().Addr().Is4In6() {
		addr.IP = addr.IP.To4()
	}
	return
}

// TCPAddrToSockaddr returns the socket family and address of addr.
func TCPAddrToSockaddr(addr *net.TCPAddr) (family int, sa unix.Sockaddr) {
	if ip4 := addr.IP.To4(); ip4 != nil && len(addr.IP) == net.IPv4len {
		sa4 := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa4.Addr[:], ip4)
		return unix.AF_INET, sa4
	}
	sa6 := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa6.Addr[:], addr.IP.To16())
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa6.ZoneId = uint32(ifi.Index)
		}
	}
	return unix.AF_INET6, sa6
}

// SockaddrToTCPAddr converts an inet socket address, nil for anything else.
func SockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   append([]byte{}, sa.Addr[:]...),
			Port: sa.Port,
		}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{
			IP:   append([]byte{}, sa.Addr[:]...),
			Port: sa.Port,
			Zone: zone,
		}
	}
	return nil
}

// PeerAddr returns the remote address of a connected socket.
func PeerAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, err
	}
	if addr := SockaddrToTCPAddr(sa); addr != nil {
		return addr, nil
	}
	return nil, errors.From(ErrInvalidAddress)
}

// LocalAddr returns the bound address of a socket.
func LocalAddr(fd int) (net.Addr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, err
	}
	if addr := SockaddrToTCPAddr(sa); addr != nil {
		return addr, nil
	}
	return nil, errors.From(ErrInvalidAddress)
}
