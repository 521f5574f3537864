package random

import "testing"

func TestTransactionID(t *testing.T) {
	seen := make(map[uint16]bool)
	const iterations = 10000

	for i := 0; i < iterations; i++ {
		id := TransactionID()
		seen[id] = true
	}

	uniqueCount := len(seen)
	if uniqueCount < iterations*9/10 {
		t.Errorf("too many collisions: got %d unique IDs from %d iterations", uniqueCount, iterations)
	}
}
