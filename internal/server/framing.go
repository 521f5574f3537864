package server

import (
	"encoding/binary"
	"fmt"
	"net"
)

// readFramedTCP reads a 2-byte big-endian length prefix followed by
// exactly that many bytes, per RFC 1035's TCP message framing.
func readFramedTCP(conn net.Conn) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := readFullTCP(conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])

	body := make([]byte, n)
	if _, err := readFullTCP(conn, body); err != nil {
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return body, nil
}

// writeFramedTCP writes body prefixed with its 2-byte big-endian length.
func writeFramedTCP(conn net.Conn, body []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(body)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := conn.Write(body); err != nil {
		return fmt.Errorf("write message body: %w", err)
	}
	return nil
}

func readFullTCP(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
