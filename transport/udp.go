// Package transport adapts UDP sockets to the reader's Sender interface and
// hands the raw bytes of incoming datagrams to a caller-supplied callback;
// decoding them into wire.Message values is left to that callback.
//
// Per spec.md §1, the transport and CDR/wire decoding are themselves
// external collaborators / black boxes; this package is the thin adapter
// edge spec.md's architecture diagram shows as the reader's "UDP bytes" input,
// not a full RTPS transport stack. Error-mapping texture is grounded on
// dwarri-gazette's broker/client/reader.go (mapGRPCCtxErr): translate
// transport-layer errors into a small sentinel vocabulary at the package
// boundary rather than leaking raw net errors into the reader.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/atostek/godds/guid"
	"github.com/atostek/godds/locator"
)

// readPollInterval bounds how long a single ReadFromUDP call blocks before
// ReadLoop rechecks ctx, since net.UDPConn has no context-aware read.
const readPollInterval = 500 * time.Millisecond

// Sentinel errors returned at this package's boundary, mirroring
// broker/client/reader.go's named-error-block convention.
var (
	ErrClosed    = errors.New("transport: connection closed")
	ErrNoRoute   = errors.New("transport: no usable locator for destination")
	ErrShortRead = errors.New("transport: datagram shorter than an RTPS header")
)

// MaxDatagramSize bounds a single incoming read, matching the conventional
// RTPS-over-UDP MTU ceiling.
const MaxDatagramSize = 65507

// Conn is a UDP listener/sender pair bound to one locator, satisfying
// rtpsreader.Sender.
type Conn struct {
	conn *net.UDPConn
}

// Listen opens a UDP socket on loc, joining its multicast group if loc
// addresses one.
func Listen(loc locator.Locator) (*Conn, error) {
	addr, err := loc.UDPAddr()
	if err != nil {
		return nil, errors.WithMessage(err, "transport: resolving listen locator")
	}
	var udpConn *net.UDPConn
	if loc.IsMulticast() {
		udpConn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		udpConn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		return nil, errors.WithMessage(err, "transport: listening")
	}
	return &Conn{conn: udpConn}, nil
}

// SendTo implements rtpsreader.Sender: it dials the first usable locator and
// writes payload as a single datagram. dst is accepted for symmetry with
// rtpsreader.Sender's signature (a future multi-homed participant could use
// it to pick among several local sockets) but is not consulted here.
func (c *Conn) SendTo(dst guid.GuidPrefix, locators []locator.Locator, payload []byte) error {
	if len(locators) == 0 {
		return ErrNoRoute
	}
	addr, err := locators[0].UDPAddr()
	if err != nil {
		return errors.WithMessage(err, "transport: resolving destination locator")
	}
	if _, err := c.conn.WriteToUDP(payload, addr); err != nil {
		return errors.WithMessage(err, "transport: write")
	}
	return nil
}

// ReadLoop reads datagrams until ctx is canceled or the socket closes,
// invoking handle with each datagram's raw bytes and source address. Message
// decoding (raw bytes -> wire.Message) is left to handle, keeping this
// package ignorant of RTPS's own framing per the package doc note.
func (c *Conn) ReadLoop(ctx context.Context, handle func(src *net.UDPAddr, b []byte)) error {
	var buf = make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return mapNetError(err)
		}
		if n < 20 {
			log.WithField("n", n).Warn("transport: short datagram, dropping")
			continue
		}
		handle(src, buf[:n])
	}
}

// Close releases the underlying socket.
func (c *Conn) Close() error { return c.conn.Close() }

func mapNetError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return errors.WithMessage(err, "transport: read")
}

