// Package candidate parses and serializes ICE candidate attribute values
// (the part of an SDP "a=candidate:" line after "a=").
package candidate

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ErrMalformedCandidate is returned by Parse for any text that is not one of
// the two recognised candidate shapes.
var ErrMalformedCandidate = errors.New("malformed ICE candidate")

const prefix = "candidate:"

type Transport int

const (
	TransportUDP Transport = iota
	TransportTCP
)

func (t Transport) String() string {
	if t == TransportTCP {
		return "tcp"
	}
	return "udp"
}

type Type int

const (
	TypeHost Type = iota
	TypeServerReflexive
	TypePeerReflexive
	TypeRelay
)

func (t Type) String() string {
	switch t {
	case TypeServerReflexive:
		return "srflx"
	case TypePeerReflexive:
		return "prflx"
	case TypeRelay:
		return "relay"
	default:
		return "host"
	}
}

// Indexed is a candidate as it travels between the engine, the SDP document
// and the signaling API: the media line it belongs to and its raw attribute
// value, e.g. "candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host".
type Indexed struct {
	MLineIndex uint32
	Text       string
}

// Attribute is the structured form of a candidate attribute. RelatedAddress
// and RelatedPort are only set for non-host candidates.
type Attribute struct {
	Foundation     string
	Component      uint32
	Transport      Transport
	Priority       uint64
	Address        netip.Addr
	Port           uint32
	Type           Type
	RelatedAddress *netip.Addr
	RelatedPort    *uint32
}

// Parse accepts either the host form
//
//	foundation component transport priority address port typ host ...
//
// or the extended form
//
//	foundation component transport priority address port typ <srflx|prflx|relay> raddr <addr> rport <port> ...
//
// Anything after the recognised fields is ignored.
func Parse(raw string) (Attribute, error) {
	fields := strings.Split(strings.TrimPrefix(raw, prefix), " ")
	if len(fields) < 8 || fields[6] != "typ" {
		return Attribute{}, fmt.Errorf("%w: unexpected shape %q", ErrMalformedCandidate, raw)
	}

	attr, err := parseBase(fields)
	if err != nil {
		return Attribute{}, err
	}

	if strings.EqualFold(fields[7], "host") {
		attr.Type = TypeHost
		return attr, nil
	}

	switch strings.ToLower(fields[7]) {
	case "srflx":
		attr.Type = TypeServerReflexive
	case "prflx":
		attr.Type = TypePeerReflexive
	case "relay":
		attr.Type = TypeRelay
	default:
		return Attribute{}, fmt.Errorf("%w: unknown type %q", ErrMalformedCandidate, fields[7])
	}

	if len(fields) < 12 || fields[8] != "raddr" || fields[10] != "rport" {
		return Attribute{}, fmt.Errorf("%w: %s candidate without raddr/rport", ErrMalformedCandidate, attr.Type)
	}
	raddr, err := netip.ParseAddr(fields[9])
	if err != nil {
		return Attribute{}, fmt.Errorf("%w: related address: %v", ErrMalformedCandidate, err)
	}
	rport, err := parseUint32(fields[11], "related port")
	if err != nil {
		return Attribute{}, err
	}
	attr.RelatedAddress = &raddr
	attr.RelatedPort = &rport
	return attr, nil
}

func parseBase(fields []string) (Attribute, error) {
	var (
		attr Attribute
		err  error
	)
	attr.Foundation = fields[0]
	if attr.Foundation == "" {
		return Attribute{}, fmt.Errorf("%w: empty foundation", ErrMalformedCandidate)
	}
	if attr.Component, err = parseUint32(fields[1], "component"); err != nil {
		return Attribute{}, err
	}
	switch strings.ToLower(fields[2]) {
	case "udp":
		attr.Transport = TransportUDP
	case "tcp":
		attr.Transport = TransportTCP
	default:
		return Attribute{}, fmt.Errorf("%w: unknown transport %q", ErrMalformedCandidate, fields[2])
	}
	if attr.Priority, err = strconv.ParseUint(fields[3], 10, 64); err != nil {
		return Attribute{}, fmt.Errorf("%w: priority: %v", ErrMalformedCandidate, err)
	}
	if attr.Address, err = netip.ParseAddr(fields[4]); err != nil {
		return Attribute{}, fmt.Errorf("%w: address: %v", ErrMalformedCandidate, err)
	}
	if attr.Port, err = parseUint32(fields[5], "port"); err != nil {
		return Attribute{}, err
	}
	return attr, nil
}

func parseUint32(s, field string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformedCandidate, field, err)
	}
	return uint32(v), nil
}

// String renders the attribute value including the "candidate:" prefix.
func (a Attribute) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s%s %d %s %d %s %d typ %s",
		prefix, a.Foundation, a.Component, a.Transport, a.Priority, a.Address, a.Port, a.Type)
	if a.Type != TypeHost && a.RelatedAddress != nil && a.RelatedPort != nil {
		fmt.Fprintf(&b, " raddr %s rport %d", *a.RelatedAddress, *a.RelatedPort)
	}
	return b.String()
}

// Equal reports whether two attributes describe the same transport address.
// Priority is ignored since engines may re-prioritise a candidate they
// already announced.
func (a Attribute) Equal(o Attribute) bool {
	return a.Foundation == o.Foundation &&
		a.Component == o.Component &&
		a.Transport == o.Transport &&
		a.Address == o.Address &&
		a.Port == o.Port &&
		a.Type == o.Type
}
