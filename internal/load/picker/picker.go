// Package picker draws workload values from weighted, disjoint pools.
//
// A picker is configured with a list of pools, each a weight and a set of
// values. A draw first selects a pool with probability proportional to its
// weight and then selects a value uniformly from that pool:
//
//	pools:
//	  - weight: 0.60
//	    values: ["1", "2", "3", "4"]
//	  - weight: 0.25
//	    values: ["7", "8", "9"]
//	  - weight: 0.15
//	    values: ["500", "501"]
//
// Pools must be disjoint, so every drawn value identifies exactly one pool.
package picker

import (
	"errors"
	"fmt"
	"math"
)

// Source is the randomness a draw consumes. *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

// Pool is a weighted set of values.
type Pool struct {
	Weight float64
	Values []string
}

// Picker draws values from its pools. It is immutable after New and safe for
// concurrent use as long as each goroutine brings its own Source.
type Picker struct {
	pools      []Pool
	cumulative []float64
	index      map[string]int
}

// New validates pools and normalises their weights to sum to one.
func New(pools []Pool) (*Picker, error) {
	if len(pools) == 0 {
		return nil, errors.New("picker needs at least one pool")
	}

	var total float64
	for i, p := range pools {
		if p.Weight <= 0 || math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0) {
			return nil, fmt.Errorf("pool %d: weight must be a positive number", i)
		}
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("pool %d: at least one value is required", i)
		}
		total += p.Weight
	}

	pk := &Picker{
		pools:      make([]Pool, len(pools)),
		cumulative: make([]float64, len(pools)),
		index:      make(map[string]int),
	}

	var acc float64
	for i, p := range pools {
		for _, v := range p.Values {
			if prev, dup := pk.index[v]; dup {
				return nil, fmt.Errorf("value %q appears in pools %d and %d", v, prev, i)
			}
			pk.index[v] = i
		}
		acc += p.Weight / total
		pk.pools[i] = Pool{Weight: p.Weight / total, Values: append([]string(nil), p.Values...)}
		pk.cumulative[i] = acc
	}
	// rounding must never leave a gap above the last pool
	pk.cumulative[len(pk.cumulative)-1] = 1.0

	return pk, nil
}

// Pick draws a value and returns it with the index of its pool.
func (p *Picker) Pick(src Source) (string, int) {
	r := src.Float64()

	idx := len(p.cumulative) - 1
	for i, c := range p.cumulative {
		if r < c {
			idx = i
			break
		}
	}

	values := p.pools[idx].Values
	return values[src.Intn(len(values))], idx
}

// PoolOf returns the pool a value belongs to.
func (p *Picker) PoolOf(value string) (int, bool) {
	idx, ok := p.index[value]
	return idx, ok
}

// Pools returns the normalised pools.
func (p *Picker) Pools() []Pool {
	out := make([]Pool, len(p.pools))
	copy(out, p.pools)
	return out
}

// Set is a named collection of pickers, drawn together once per iteration.
type Set map[string]*Picker

// Draw picks one value from every picker in the set.
func (s Set) Draw(src Source) map[string]string {
	if len(s) == 0 {
		return nil
	}
	out := make(map[string]string, len(s))
	for name, p := range s {
		v, _ := p.Pick(src)
		out[name] = v
	}
	return out
}
