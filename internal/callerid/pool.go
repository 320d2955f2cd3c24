package callerid

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Pool picks the outbound caller id for each dial.
//
// Selection is weighted: a number with weight 3 is presented three times as
// often as one with weight 1. Safe for concurrent use.
type Pool struct {
	numbers []WeightedNumber
	total   int

	mu  sync.Mutex
	rng *rand.Rand
}

type WeightedNumber struct {
	// Number is E.164.
	Number string

	// Weight must be > 0.
	Weight int
}

var ErrEmptyPool = errors.New("callerid: pool has no numbers")

// NewPool keeps numbers with a positive weight. rng may be nil.
func NewPool(numbers []WeightedNumber, rng *rand.Rand) (*Pool, error) {
	p := &Pool{rng: rng}
	for _, n := range numbers {
		if n.Weight <= 0 || strings.TrimSpace(n.Number) == "" {
			continue
		}
		p.numbers = append(p.numbers, n)
		p.total += n.Weight
	}
	if p.total <= 0 {
		return nil, ErrEmptyPool
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p, nil
}

// Parse reads "number:weight" pairs separated by commas. A bare number has weight 1.
func Parse(spec string) ([]WeightedNumber, error) {
	var out []WeightedNumber
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		num, weight := part, 1
		if i := strings.LastIndex(part, ":"); i >= 0 {
			w, err := strconv.Atoi(strings.TrimSpace(part[i+1:]))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("callerid: invalid weight in %q", part)
			}
			num, weight = strings.TrimSpace(part[:i]), w
		}
		if !strings.HasPrefix(num, "+") || len(num) < 4 {
			return nil, fmt.Errorf("callerid: %q is not an E.164 number", num)
		}
		out = append(out, WeightedNumber{Number: num, Weight: weight})
	}
	return out, nil
}

// FromSpec is Parse followed by NewPool.
func FromSpec(spec string) (*Pool, error) {
	numbers, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	return NewPool(numbers, nil)
}

// Pick returns the caller id for the next dial.
func (p *Pool) Pick() string {
	p.mu.Lock()
	r := p.rng.Intn(p.total) // 0..total-1
	p.mu.Unlock()

	var acc int
	for _, n := range p.numbers {
		acc += n.Weight
		if r < acc {
			return n.Number
		}
	}
	return p.numbers[len(p.numbers)-1].Number
}

// Numbers returns a copy of the configured numbers.
func (p *Pool) Numbers() []WeightedNumber {
	return append([]WeightedNumber(nil), p.numbers...)
}
