package order

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

const (
	numberPrefix    = "ORD-"
	numberSuffixLen = 6
	// crockford is the Crockford base32 alphabet: no I, L, O or U.
	crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
)

// NumberGenerator issues human-readable order numbers of the form
// ORD-YYYYMMDD-XXXXXX. Numbers already issued by this process today are
// skipped; the datastore unique index remains the authority across processes.
type NumberGenerator struct {
	mu     sync.Mutex
	issued *bloom.BloomFilter
	day    string
	rand   io.Reader
	now    func() time.Time
}

// NewNumberGenerator creates a generator sized for roughly expected numbers
// per day.
func NewNumberGenerator(expected uint) *NumberGenerator {
	if expected == 0 {
		expected = 100_000
	}
	return &NumberGenerator{
		issued: bloom.NewWithEstimates(expected, 0.001),
		rand:   rand.Reader,
		now:    time.Now,
	}
}

// Next returns a number not previously issued by g. A bloom false positive
// only costs another draw.
func (g *NumberGenerator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	date := g.now().UTC().Format("20060102")
	if date != g.day {
		// Numbers embed the date, so earlier days cannot collide.
		g.issued.ClearAll()
		g.day = date
	}
	buf := make([]byte, numberSuffixLen)
	for range 8 {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", errors.Wrap(err, "read random suffix")
		}
		for i, b := range buf {
			buf[i] = crockford[b&31]
		}
		n := numberPrefix + date + "-" + string(buf)
		if g.issued.TestString(n) {
			continue
		}
		g.issued.AddString(n)
		return n, nil
	}
	return "", ErrNumberSpaceExhaust
}
