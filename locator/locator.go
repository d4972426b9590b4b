// Package locator implements the RTPS Locator type: a transport kind plus
// address and port, used to address readers and writers over UDP.
package locator

import (
	"fmt"
	"net"
)

// Kind identifies the transport a Locator addresses.
type Kind int32

const (
	KindInvalid   Kind = -1
	KindReserved  Kind = 0
	KindUDPv4     Kind = 1
	KindUDPv6     Kind = 2
)

// Locator addresses an RTPS entity over a specific transport.
type Locator struct {
	Kind    Kind
	Port    uint32
	Address [16]byte // IPv4-mapped-IPv6 for UDPv4, as RTPS requires on the wire.
}

// DefaultSPDPMulticastPort is the conventional SPDP multicast discovery port
// offset, retained here because discovery.WriterFeed locators are commonly
// derived from it even though this repo doesn't implement SPDP itself.
const DefaultSPDPMulticastPort = 7400

// FromUDPAddr builds a Locator from a resolved UDP address.
func FromUDPAddr(addr *net.UDPAddr) Locator {
	var l = Locator{Port: uint32(addr.Port)}
	if ip4 := addr.IP.To4(); ip4 != nil {
		l.Kind = KindUDPv4
		copy(l.Address[12:], ip4)
	} else {
		l.Kind = KindUDPv6
		copy(l.Address[:], addr.IP.To16())
	}
	return l
}

// UDPAddr converts the Locator back into a *net.UDPAddr for dialing.
func (l Locator) UDPAddr() (*net.UDPAddr, error) {
	switch l.Kind {
	case KindUDPv4:
		return &net.UDPAddr{IP: net.IP(l.Address[12:16]), Port: int(l.Port)}, nil
	case KindUDPv6:
		var ip = make(net.IP, 16)
		copy(ip, l.Address[:])
		return &net.UDPAddr{IP: ip, Port: int(l.Port)}, nil
	default:
		return nil, fmt.Errorf("locator: unsupported kind %d", l.Kind)
	}
}

// IsMulticast reports whether the Locator's address is a multicast group.
func (l Locator) IsMulticast() bool {
	addr, err := l.UDPAddr()
	return err == nil && addr.IP.IsMulticast()
}

func (l Locator) String() string {
	addr, err := l.UDPAddr()
	if err != nil {
		return fmt.Sprintf("locator{kind:%d invalid}", l.Kind)
	}
	return addr.String()
}
