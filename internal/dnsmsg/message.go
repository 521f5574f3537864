// Package dnsmsg implements the DNS wire message: the 12-byte header,
// the question section, and the A/AAAA/NS/CNAME/MX/SOA/UNKNOWN resource
// record variants, built on top of the cursor and name codec in
// internal/wire.
package dnsmsg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dnsscience/dnscored/internal/wire"
)

// ErrMalformedRecord covers rdlength mismatches and truncated record
// payloads.
var ErrMalformedRecord = errors.New("dnsmsg: malformed record")

// RCode is a DNS response code.
type RCode uint8

const (
	RCodeNoError  RCode = 0
	RCodeFormErr  RCode = 1
	RCodeServFail RCode = 2
	RCodeNXDomain RCode = 3
	RCodeNotImp   RCode = 4
	RCodeRefused  RCode = 5
)

// String renders the well-known rcodes by name and falls back to
// "OTHER(n)" for anything else, matching QueryType's UNKNOWN(n) style.
func (r RCode) String() string {
	switch r {
	case RCodeNoError:
		return "NOERROR"
	case RCodeFormErr:
		return "FORMERR"
	case RCodeServFail:
		return "SERVFAIL"
	case RCodeNXDomain:
		return "NXDOMAIN"
	case RCodeNotImp:
		return "NOTIMP"
	case RCodeRefused:
		return "REFUSED"
	default:
		return fmt.Sprintf("OTHER(%d)", uint8(r))
	}
}

// QueryType is a tagged DNS record/question type, with round-trip
// numeric codes for the known values and an opaque UNKNOWN(n) fallback.
type QueryType struct {
	code uint16
}

var (
	TypeA     = QueryType{1}
	TypeNS    = QueryType{2}
	TypeCNAME = QueryType{5}
	TypeSOA   = QueryType{6}
	TypeMX    = QueryType{15}
	TypeAAAA  = QueryType{28}
)

// UnknownType wraps an arbitrary type code not covered by the known
// constants above.
func UnknownType(code uint16) QueryType { return QueryType{code} }

// Code returns the 16-bit wire code for t.
func (t QueryType) Code() uint16 { return t.code }

// IsKnown reports whether t is one of the record types this codec
// understands the RDATA layout of.
func (t QueryType) IsKnown() bool {
	switch t.code {
	case TypeA.code, TypeNS.code, TypeCNAME.code, TypeSOA.code, TypeMX.code, TypeAAAA.code:
		return true
	default:
		return false
	}
}

func (t QueryType) String() string {
	switch t.code {
	case TypeA.code:
		return "A"
	case TypeNS.code:
		return "NS"
	case TypeCNAME.code:
		return "CNAME"
	case TypeSOA.code:
		return "SOA"
	case TypeMX.code:
		return "MX"
	case TypeAAAA.code:
		return "AAAA"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t.code)
	}
}

// ClassINET is the only class this codec produces; others are
// tolerated on input but never written.
const ClassINET uint16 = 1

// Header is the fixed 12-byte DNS message header.
type Header struct {
	ID      uint16
	QR      bool
	Opcode  uint8 // 4 bits
	AA      bool
	TC      bool
	RD      bool
	RA      bool
	Z       bool // 3 reserved bits condensed to "any bit set", see spec §9
	Rcode   RCode
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

func (h *Header) decode(b wire.Buffer) error {
	id, err := b.ReadUint16()
	if err != nil {
		return err
	}
	flags, err := b.ReadUint16()
	if err != nil {
		return err
	}
	h.ID = id
	h.QR = flags&0x8000 != 0
	h.Opcode = uint8((flags >> 11) & 0x0F)
	h.AA = flags&0x0400 != 0
	h.TC = flags&0x0200 != 0
	h.RD = flags&0x0100 != 0
	h.RA = flags&0x0080 != 0
	h.Z = flags&0x0070 != 0
	h.Rcode = RCode(flags & 0x0F)

	if h.QDCount, err = b.ReadUint16(); err != nil {
		return err
	}
	if h.ANCount, err = b.ReadUint16(); err != nil {
		return err
	}
	if h.NSCount, err = b.ReadUint16(); err != nil {
		return err
	}
	if h.ARCount, err = b.ReadUint16(); err != nil {
		return err
	}
	return nil
}

func (h *Header) encode(b wire.Buffer) error {
	if err := b.WriteUint16(h.ID); err != nil {
		return err
	}

	var flags uint16
	if h.QR {
		flags |= 0x8000
	}
	flags |= uint16(h.Opcode&0x0F) << 11
	if h.AA {
		flags |= 0x0400
	}
	if h.TC {
		flags |= 0x0200
	}
	if h.RD {
		flags |= 0x0100
	}
	if h.RA {
		flags |= 0x0080
	}
	if h.Z {
		// Only bit 4 of the 3 reserved bits is reproduced on write;
		// the other two are lost when Z is condensed to a bool on
		// decode (spec §9 known quirk).
		flags |= 0x0010
	}
	flags |= uint16(h.Rcode) & 0x0F

	if err := b.WriteUint16(flags); err != nil {
		return err
	}
	if err := b.WriteUint16(h.QDCount); err != nil {
		return err
	}
	if err := b.WriteUint16(h.ANCount); err != nil {
		return err
	}
	if err := b.WriteUint16(h.NSCount); err != nil {
		return err
	}
	return b.WriteUint16(h.ARCount)
}

// Question is one entry of the question section.
type Question struct {
	Name  string
	Type  QueryType
	Class uint16
}

func decodeQuestion(b wire.Buffer) (Question, error) {
	var q Question
	name, err := b.ReadName()
	if err != nil {
		return q, err
	}
	t, err := b.ReadUint16()
	if err != nil {
		return q, err
	}
	c, err := b.ReadUint16()
	if err != nil {
		return q, err
	}
	q.Name = name
	q.Type = QueryType{t}
	q.Class = c
	return q, nil
}

func (q Question) encode(b wire.Buffer) error {
	if err := b.WriteName(q.Name); err != nil {
		return err
	}
	if err := b.WriteUint16(q.Type.Code()); err != nil {
		return err
	}
	return b.WriteUint16(ClassINET)
}

// ResourceRecord is a tagged variant over the record types this codec
// understands plus a generic UNKNOWN. The common prefix (name, type,
// class, ttl, rdlength) lives on the record itself; the payload fields
// are only meaningful for the matching Type.
type ResourceRecord struct {
	Name     string
	Type     QueryType
	Class    uint16
	TTL      uint32
	RDLength uint16

	A     [4]byte  // TypeA
	AAAA  [16]byte // TypeAAAA
	Host  string   // TypeNS, TypeCNAME, and TypeMX's exchange host
	MXPref uint16  // TypeMX

	// TypeSOA
	SOAPrimary    string
	SOAMailbox    string
	SOASerial     uint32
	SOARefresh    uint32
	SOARetry      uint32
	SOAExpire     uint32
	SOAMinimum    uint32
}

func decodeRR(b wire.Buffer) (ResourceRecord, error) {
	var rr ResourceRecord
	name, err := b.ReadName()
	if err != nil {
		return rr, err
	}
	typ, err := b.ReadUint16()
	if err != nil {
		return rr, err
	}
	class, err := b.ReadUint16()
	if err != nil {
		return rr, err
	}
	ttl, err := b.ReadUint32()
	if err != nil {
		return rr, err
	}
	rdlen, err := b.ReadUint16()
	if err != nil {
		return rr, err
	}

	rr.Name = name
	rr.Type = QueryType{typ}
	rr.Class = class
	rr.TTL = ttl
	rr.RDLength = rdlen

	rdataStart := b.Pos()

	switch rr.Type {
	case TypeA:
		if rdlen != 4 {
			return rr, fmt.Errorf("%w: A rdlength %d != 4", ErrMalformedRecord, rdlen)
		}
		raw, err := b.ReadBytes(4)
		if err != nil {
			return rr, err
		}
		copy(rr.A[:], raw)

	case TypeAAAA:
		if rdlen != 16 {
			return rr, fmt.Errorf("%w: AAAA rdlength %d != 16", ErrMalformedRecord, rdlen)
		}
		raw, err := b.ReadBytes(16)
		if err != nil {
			return rr, err
		}
		copy(rr.AAAA[:], raw)

	case TypeNS, TypeCNAME:
		host, err := b.ReadName()
		if err != nil {
			return rr, err
		}
		rr.Host = host

	case TypeMX:
		pref, err := b.ReadUint16()
		if err != nil {
			return rr, err
		}
		host, err := b.ReadName()
		if err != nil {
			return rr, err
		}
		rr.MXPref = pref
		rr.Host = host

	case TypeSOA:
		mname, err := b.ReadName()
		if err != nil {
			return rr, err
		}
		rname, err := b.ReadName()
		if err != nil {
			return rr, err
		}
		serial, err := b.ReadUint32()
		if err != nil {
			return rr, err
		}
		refresh, err := b.ReadUint32()
		if err != nil {
			return rr, err
		}
		retry, err := b.ReadUint32()
		if err != nil {
			return rr, err
		}
		expire, err := b.ReadUint32()
		if err != nil {
			return rr, err
		}
		minimum, err := b.ReadUint32()
		if err != nil {
			return rr, err
		}
		rr.SOAPrimary = mname
		rr.SOAMailbox = rname
		rr.SOASerial = serial
		rr.SOARefresh = refresh
		rr.SOARetry = retry
		rr.SOAExpire = expire
		rr.SOAMinimum = minimum

	default:
		// UNKNOWN: skip exactly rdlength bytes.
		if err := b.Step(int(rdlen)); err != nil {
			return rr, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}
	}

	consumed := b.Pos() - rdataStart
	if rr.Type.IsKnown() && consumed != int(rdlen) {
		return rr, fmt.Errorf("%w: consumed %d bytes, rdlength said %d", ErrMalformedRecord, consumed, rdlen)
	}

	return rr, nil
}

// encode writes the record. UNKNOWN records are skipped entirely on
// write — a known lossy behaviour carried over from spec.md §9.
func (rr ResourceRecord) encode(b wire.Buffer) error {
	if !rr.Type.IsKnown() {
		return nil
	}

	if err := b.WriteName(rr.Name); err != nil {
		return err
	}
	if err := b.WriteUint16(rr.Type.Code()); err != nil {
		return err
	}
	if err := b.WriteUint16(ClassINET); err != nil {
		return err
	}
	if err := b.WriteUint32(rr.TTL); err != nil {
		return err
	}

	// The rdlength placeholder is backfilled once the payload is
	// known, since named encodings inside RDATA (NS/CNAME/MX/SOA) have
	// no fixed size.
	rdlenPos := b.Pos()
	if err := b.WriteUint16(0); err != nil {
		return err
	}
	rdataStart := b.Pos()

	switch rr.Type {
	case TypeA:
		if err := b.WriteBytes(rr.A[:]); err != nil {
			return err
		}
	case TypeAAAA:
		if err := b.WriteBytes(rr.AAAA[:]); err != nil {
			return err
		}
	case TypeNS, TypeCNAME:
		if err := b.WriteName(rr.Host); err != nil {
			return err
		}
	case TypeMX:
		if err := b.WriteUint16(rr.MXPref); err != nil {
			return err
		}
		if err := b.WriteName(rr.Host); err != nil {
			return err
		}
	case TypeSOA:
		if err := b.WriteName(rr.SOAPrimary); err != nil {
			return err
		}
		if err := b.WriteName(rr.SOAMailbox); err != nil {
			return err
		}
		for _, v := range []uint32{rr.SOASerial, rr.SOARefresh, rr.SOARetry, rr.SOAExpire, rr.SOAMinimum} {
			if err := b.WriteUint32(v); err != nil {
				return err
			}
		}
	}

	rdlen := b.Pos() - rdataStart
	if err := b.Put(rdlenPos, byte(rdlen>>8)); err != nil {
		return err
	}
	return b.Put(rdlenPos+1, byte(rdlen))
}

// Message is a full DNS message: header plus the four variable
// sections. It is not shared across request/response turns.
type Message struct {
	Header     Header
	Question   []Question
	Answer     []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord
}

// Decode parses a full DNS message out of raw wire bytes. The buffer
// flavor is chosen from the input length: a FixedBuffer when raw fits
// in FixedBufferSize bytes, a GrowableBuffer otherwise.
func Decode(raw []byte) (*Message, error) {
	var b wire.Buffer
	if len(raw) <= wire.FixedBufferSize {
		b = wire.NewFixedBufferFrom(raw)
	} else {
		b = wire.NewGrowableBufferFrom(raw)
	}
	return decode(b)
}

func decode(b wire.Buffer) (*Message, error) {
	m := &Message{}
	if err := m.Header.decode(b); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	m.Question = make([]Question, 0, m.Header.QDCount)
	for i := 0; i < int(m.Header.QDCount); i++ {
		q, err := decodeQuestion(b)
		if err != nil {
			return nil, fmt.Errorf("decode question %d: %w", i, err)
		}
		m.Question = append(m.Question, q)
	}

	var err error
	if m.Answer, err = decodeRRSection(b, int(m.Header.ANCount)); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	if m.Authority, err = decodeRRSection(b, int(m.Header.NSCount)); err != nil {
		return nil, fmt.Errorf("decode authority: %w", err)
	}
	if m.Additional, err = decodeRRSection(b, int(m.Header.ARCount)); err != nil {
		return nil, fmt.Errorf("decode additional: %w", err)
	}

	return m, nil
}

func decodeRRSection(b wire.Buffer, count int) ([]ResourceRecord, error) {
	rrs := make([]ResourceRecord, 0, count)
	for i := 0; i < count; i++ {
		rr, err := decodeRR(b)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}

// EncodeUDP encodes m into a 512-byte FixedBuffer suitable for a
// datagram reply, synchronising the header counts with the section
// lengths first.
func (m *Message) EncodeUDP() ([]byte, error) {
	b := wire.NewFixedBuffer()
	if err := m.encode(b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// EncodeStream encodes m into an unbounded GrowableBuffer suitable for
// a length-framed TCP reply.
func (m *Message) EncodeStream() ([]byte, error) {
	b := wire.NewGrowableBuffer()
	if err := m.encode(b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (m *Message) encode(b wire.Buffer) error {
	// Unknown-type records are skipped silently on write, so
	// the emitted count can be lower than len(Answer) etc. Count what
	// will actually be written before encoding the header.
	m.Header.QDCount = uint16(len(m.Question))
	m.Header.ANCount = uint16(countEncodable(m.Answer))
	m.Header.NSCount = uint16(countEncodable(m.Authority))
	m.Header.ARCount = uint16(countEncodable(m.Additional))

	if err := m.Header.encode(b); err != nil {
		return err
	}
	for _, q := range m.Question {
		if err := q.encode(b); err != nil {
			return err
		}
	}
	for _, rr := range m.Answer {
		if err := rr.encode(b); err != nil {
			return err
		}
	}
	for _, rr := range m.Authority {
		if err := rr.encode(b); err != nil {
			return err
		}
	}
	for _, rr := range m.Additional {
		if err := rr.encode(b); err != nil {
			return err
		}
	}
	return nil
}

func countEncodable(rrs []ResourceRecord) int {
	n := 0
	for _, rr := range rrs {
		if rr.Type.IsKnown() {
			n++
		}
	}
	return n
}

// MinTTL returns the minimum TTL across a record section, or the given
// fallback if the section is empty.
func MinTTL(rrs []ResourceRecord, fallback uint32) uint32 {
	if len(rrs) == 0 {
		return fallback
	}
	min := rrs[0].TTL
	for _, rr := range rrs[1:] {
		if rr.TTL < min {
			min = rr.TTL
		}
	}
	return min
}

// NormalizeName lowercases and trims a trailing dot the same way
// ReadName does, so names built in memory compare equal to decoded
// ones.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
