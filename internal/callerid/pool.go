// Package callerid selects the outbound presentation number for a bridge
// when the initiate request does not pin one.
package callerid

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"coldcall-bridge/pkg/phone"
)

var ErrEmptyPool = errors.New("callerid: pool is empty")

// WeightedNumber is one pool entry; higher weight carries more traffic.
type WeightedNumber struct {
	Number string
	Weight int
}

// Pool picks caller IDs by weighted random selection so outbound traffic
// spreads across the fleet instead of burning one number's reputation.
type Pool struct {
	numbers []WeightedNumber

	// rand.Rand is not safe for concurrent use.
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPool validates and normalizes every entry up front; a misconfigured
// number fails construction rather than a live call. Entries with weight
// <= 0 are dropped. rng may be nil; a seeded source is used.
func NewPool(numbers []WeightedNumber, rng *rand.Rand) (*Pool, error) {
	valid := make([]WeightedNumber, 0, len(numbers))
	for _, n := range numbers {
		if n.Weight <= 0 {
			continue
		}
		e164, err := phone.NormalizeE164(n.Number)
		if err != nil {
			return nil, fmt.Errorf("callerid: pool entry %q: %w", n.Number, err)
		}
		valid = append(valid, WeightedNumber{Number: e164, Weight: n.Weight})
	}
	if len(valid) == 0 {
		return nil, ErrEmptyPool
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pool{numbers: valid, rng: rng}, nil
}

// ParsePool builds a pool from the env spec format
// "+12025550143:3,+12025550198" where a missing weight means 1.
func ParsePool(spec string, rng *rand.Rand) (*Pool, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ErrEmptyPool
	}

	var numbers []WeightedNumber
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		number, weightStr, hasWeight := strings.Cut(entry, ":")
		weight := 1
		if hasWeight {
			w, err := strconv.Atoi(strings.TrimSpace(weightStr))
			if err != nil || w <= 0 {
				return nil, fmt.Errorf("callerid: bad weight in pool entry %q", entry)
			}
			weight = w
		}
		numbers = append(numbers, WeightedNumber{Number: number, Weight: weight})
	}
	return NewPool(numbers, rng)
}

// Pick implements the manager's caller-ID picker. The provider name is
// accepted for a future per-provider split; selection is pool-wide today.
func (p *Pool) Pick(_ string) (string, error) {
	var total int
	for _, n := range p.numbers {
		total += n.Weight
	}
	if total <= 0 {
		return "", ErrEmptyPool
	}

	p.mu.Lock()
	r := p.rng.Intn(total)
	p.mu.Unlock()

	var acc int
	for _, n := range p.numbers {
		acc += n.Weight
		if r < acc {
			return n.Number, nil
		}
	}
	return "", ErrEmptyPool
}
