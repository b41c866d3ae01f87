package engine

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is a goroutine-safe random source. Workers share one.
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a deterministic source for seed.
func NewRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandomRand returns a source seeded from the runtime's entropy.
func NewRandomRand() *Rand {
	return NewRand(rand.Uint64())
}

func (r *Rand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.IntN(n)
}

func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

func (r *Rand) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.NormFloat64()
}

// Jitter is a normal distribution of delays with a hard floor.
type Jitter struct {
	Mean   time.Duration
	StdDev time.Duration
	Floor  time.Duration
}

// Draw samples one delay.
func (j Jitter) Draw(rnd *Rand) time.Duration {
	d := j.Mean + time.Duration(rnd.NormFloat64()*float64(j.StdDev))
	if d < j.Floor {
		d = j.Floor
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Between draws uniformly from [lo, hi).
func Between(rnd *Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rnd.Float64()*float64(hi-lo))
}

// Sleeper blocks for d. Tests replace time.Sleep with a recorder.
type Sleeper func(d time.Duration)
