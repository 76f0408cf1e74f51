package pill

import (
	"crypto/rand"
	"math/big"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	// NumberLength is the number of decimal digits in a pill number.
	NumberLength = 12

	numberBloomCapacity = 1_000_000
	numberBloomFPR      = 0.001
	maxBloomSkips       = 16
)

var numberSpace = new(big.Int).Exp(big.NewInt(10), big.NewInt(NumberLength), nil)

// NumberGenerator issues random fixed-length pill numbers. Numbers already
// issued are tracked in a bloom filter so likely collisions are skipped
// before they reach the storage unique constraint.
type NumberGenerator struct {
	mu     sync.Mutex
	issued *bloom.BloomFilter
	random func() (string, error)
}

// NewNumberGenerator returns a generator with an empty issued set.
func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{
		issued: bloom.NewWithEstimates(numberBloomCapacity, numberBloomFPR),
		random: randomNumber,
	}
}

// Warm marks numbers as issued.
func (g *NumberGenerator) Warm(numbers []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range numbers {
		g.issued.AddString(n)
	}
}

// MarkIssued records a number as taken.
func (g *NumberGenerator) MarkIssued(number string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.issued.AddString(number)
}

// Next returns a number the filter has not seen. After too many filter
// hits the last candidate is returned and the storage constraint decides.
func (g *NumberGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var candidate string
	for range maxBloomSkips {
		n, err := g.random()
		if err != nil {
			return "", errors.Wrap(err, "random number")
		}
		candidate = n
		if !g.issued.TestString(n) {
			break
		}
	}
	return candidate, nil
}

func randomNumber() (string, error) {
	n, err := rand.Int(rand.Reader, numberSpace)
	if err != nil {
		return "", err
	}
	s := n.String()
	for len(s) < NumberLength {
		s = "0" + s
	}
	return s, nil
}
