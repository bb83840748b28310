package order

import (
	"crypto/rand"
	"time"
)

// numberAlphabet avoids ambiguous characters (0/O, 1/I/L) so order numbers
// survive being read over the phone.
const numberAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// NewNumber generates a human-readable order number of the form
// SO-20260901-X7KQ2M. Uniqueness is enforced by the database; the random
// suffix makes collisions within a day vanishingly rare.
func NewNumber(now time.Time) string {
	const suffixLen = 6

	buf := make([]byte, suffixLen)
	_, _ = rand.Read(buf)
	for i := range buf {
		buf[i] = numberAlphabet[int(buf[i])%len(numberAlphabet)]
	}

	return "SO-" + now.UTC().Format("20060102") + "-" + string(buf)
}
