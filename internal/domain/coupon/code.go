package coupon

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/go-faster/errors"
)

const (
	codeLetters = "abcdefghijklmnopqrstuvwxyz"
	codeDigits  = "023456789"
	codeMarks   = "@#$%&*"
	codeGroups  = 5
)

// GenerateCode returns a random code of five letter-digit-mark groups
// joined by dashes, for example "k4#-a9@-x2$-m7&-q0*".
func GenerateCode() (string, error) {
	var b strings.Builder
	for i := range codeGroups {
		if i > 0 {
			b.WriteByte('-')
		}
		for _, set := range []string{codeLetters, codeDigits, codeMarks} {
			c, err := pick(set)
			if err != nil {
				return "", errors.Wrap(err, "generate code")
			}
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
