package checkout

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"strings"
)

const orderNumberAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var orderNumberPattern = regexp.MustCompile(`^DT-[A-Z0-9]{6}$`)

// NewOrderNumber returns a fresh DT-XXXXXX code.
func NewOrderNumber() (string, error) {
	var b strings.Builder
	b.WriteString("DT-")
	size := big.NewInt(int64(len(orderNumberAlphabet)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(orderNumberAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func ValidOrderNumber(s string) bool {
	return orderNumberPattern.MatchString(s)
}
