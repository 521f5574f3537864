// Package random provides cryptographically secure randomization for
// DNS transaction ids.
//
// Attack model: Kaminsky-style cache poisoning relies on guessing a
// query's 16-bit transaction id. A predictable source (math/rand, a
// counter) makes that guess cheap; crypto/rand does not.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// TransactionID generates a cryptographically random 16-bit DNS
// transaction id. Never use math/rand here.
func TransactionID() uint16 {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("random: crypto/rand failed: %v", err))
	}
	return binary.BigEndian.Uint16(buf[:])
}
