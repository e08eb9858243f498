// Package wire implements the RFC 1035 framing used for raw UDP and
// DNS-over-HTTPS TXT queries: query encoding, response validation and TXT
// extraction with compression-pointer support.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"strings"

	"dnschat/pkg/dnserror"
)

const (
	headerLength = 12

	flagQR     = 0x8000
	flagRD     = 0x0100
	flagTC     = 0x0200
	opcodeMask = 0x7800
	rcodeMask  = 0x000F

	pointerMask       = 0xC0
	pointerOffsetMask = 0x3F

	// TypeTXT and ClassIN are the only QTYPE/QCLASS this codec speaks.
	TypeTXT = 16
	ClassIN = 1

	maxNameLength = 255

	// maxPointerJumps bounds compression-pointer chasing so a malicious
	// response with a pointer cycle terminates instead of looping.
	maxPointerJumps = 10
)

// Query is one encoded attempt: the wire payload plus the transaction ID and
// query name the response must echo.
type Query struct {
	Payload       []byte
	TransactionID uint16
	Name          string
}

// NewTransactionID draws a cryptographically random 16-bit transaction ID.
func NewTransactionID() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand only fails when the platform entropy source is
		// broken; a zero ID still round-trips correctly.
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// BuildQuery encodes a standard recursive TXT query for queryName.
// maxLabelLength caps each label; violations fail before any bytes are sent.
func BuildQuery(queryName string, transactionID uint16, maxLabelLength int) (*Query, error) {
	qname, err := encodeName(queryName, maxLabelLength)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, headerLength+len(qname)+4)
	var header [headerLength]byte
	binary.BigEndian.PutUint16(header[0:2], transactionID)
	binary.BigEndian.PutUint16(header[2:4], flagRD)
	binary.BigEndian.PutUint16(header[4:6], 1) // QDCOUNT
	payload = append(payload, header[:]...)
	payload = append(payload, qname...)
	payload = binary.BigEndian.AppendUint16(payload, TypeTXT)
	payload = binary.BigEndian.AppendUint16(payload, ClassIN)

	return &Query{Payload: payload, TransactionID: transactionID, Name: queryName}, nil
}

func encodeName(name string, maxLabelLength int) ([]byte, error) {
	labels := strings.Split(name, ".")
	out := make([]byte, 0, len(name)+2)
	total := 1 // terminating zero label
	for _, label := range labels {
		if len(label) == 0 {
			return nil, dnserror.New(dnserror.QueryFailed, "DNS query name has an empty label")
		}
		if len(label) > maxLabelLength {
			return nil, dnserror.Newf(dnserror.QueryFailed, "DNS label exceeds %d bytes: %s", maxLabelLength, label)
		}
		total += 1 + len(label)
		if total > maxNameLength {
			return nil, dnserror.New(dnserror.QueryFailed, "DNS query name exceeds 255 bytes")
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	return out, nil
}

// ParseResponse validates a response against the transaction ID and query
// name of the attempt that produced it, then extracts every TXT
// character-string from the answer section. Each validation failure is a
// distinct QUERY_FAILED; there is no partial success.
func ParseResponse(data []byte, expectedTransactionID uint16, expectedQueryName string) ([]string, error) {
	if len(data) < headerLength {
		return nil, dnserror.New(dnserror.QueryFailed, "DNS response shorter than header")
	}

	if binary.BigEndian.Uint16(data[0:2]) != expectedTransactionID {
		return nil, dnserror.New(dnserror.QueryFailed, "DNS response ID mismatch - possible spoofing attempt")
	}
	flags := binary.BigEndian.Uint16(data[2:4])
	if flags&flagQR == 0 {
		return nil, dnserror.New(dnserror.QueryFailed, "DNS response missing QR flag")
	}
	if opcode := (flags & opcodeMask) >> 11; opcode != 0 {
		return nil, dnserror.New(dnserror.QueryFailed, "DNS response opcode not standard query")
	}
	if flags&flagTC != 0 {
		// Truncation is not retried on this transport; the chain falls
		// through to the next one.
		return nil, dnserror.New(dnserror.QueryFailed, "DNS response truncated (TC=1)")
	}
	if rcode := flags & rcodeMask; rcode != 0 {
		return nil, dnserror.Newf(dnserror.QueryFailed, "DNS response rcode=%d", rcode)
	}
	qdCount := binary.BigEndian.Uint16(data[4:6])
	anCount := binary.BigEndian.Uint16(data[6:8])
	if qdCount != 1 {
		return nil, dnserror.Newf(dnserror.QueryFailed, "DNS response QDCOUNT=%d", qdCount)
	}

	offset := headerLength
	expected := strings.ToLower(expectedQueryName)
	for q := 0; q < int(qdCount); q++ {
		name, next, err := readName(data, offset)
		if err != nil {
			return nil, err
		}
		offset = next
		if name != expected {
			return nil, dnserror.New(dnserror.QueryFailed, "DNS response question name mismatch")
		}
		if offset+4 > len(data) {
			return nil, dnserror.New(dnserror.QueryFailed, "DNS response question truncated")
		}
		qtype := binary.BigEndian.Uint16(data[offset : offset+2])
		qclass := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		if qtype != TypeTXT || qclass != ClassIN {
			return nil, dnserror.New(dnserror.QueryFailed, "DNS response question type/class mismatch")
		}
	}

	var results []string
	for i := 0; i < int(anCount) && offset+10 <= len(data); i++ {
		// The answer NAME is either a pointer or an inline label run;
		// either way only its length matters here.
		if data[offset]&pointerMask == pointerMask {
			offset += 2
		} else {
			for offset < len(data) {
				l := int(data[offset])
				offset++
				if l == 0 {
					break
				}
				offset += l
			}
		}

		if offset+10 > len(data) {
			break
		}
		rrType := binary.BigEndian.Uint16(data[offset : offset+2])
		rdLength := int(binary.BigEndian.Uint16(data[offset+8 : offset+10]))
		offset += 10

		if rrType == TypeTXT && offset+rdLength <= len(data) {
			end := offset + rdLength
			for p := offset; p < end; {
				txtLen := int(data[p])
				p++
				if txtLen == 0 || p+txtLen > end {
					break
				}
				results = append(results, string(data[p:p+txtLen]))
				p += txtLen
			}
		}
		offset += rdLength
	}

	return results, nil
}

// readName decodes a possibly-compressed name starting at offset. It returns
// the lowercased name and the offset of the byte after the name in the
// original (unjumped) stream.
func readName(data []byte, offset int) (string, int, error) {
	var name strings.Builder
	current := offset
	next := offset
	jumped := false
	jumps := 0

	for current < len(data) {
		length := int(data[current])
		if length == 0 {
			current++
			if !jumped {
				next = current
			}
			return strings.ToLower(name.String()), next, nil
		}

		if length&pointerMask == pointerMask {
			if current+1 >= len(data) {
				return "", 0, dnserror.New(dnserror.QueryFailed, "DNS response name pointer truncated")
			}
			pointer := (length&pointerOffsetMask)<<8 | int(data[current+1])
			if pointer >= len(data) {
				return "", 0, dnserror.New(dnserror.QueryFailed, "DNS response name pointer out of range")
			}
			if !jumped {
				next = current + 2
			}
			current = pointer
			jumped = true
			jumps++
			if jumps > maxPointerJumps {
				return "", 0, dnserror.New(dnserror.QueryFailed, "DNS response name pointer loop")
			}
			continue
		}

		current++
		if current+length > len(data) {
			return "", 0, dnserror.New(dnserror.QueryFailed, "DNS response name truncated")
		}
		if name.Len() > 0 {
			name.WriteByte('.')
		}
		name.Write(data[current : current+length])
		current += length
		if !jumped {
			next = current
		}
	}

	return "", 0, dnserror.New(dnserror.QueryFailed, "DNS response name truncated")
}
