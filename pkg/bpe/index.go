package bpe

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// pairIndex holds the pair frequency table and the inverted pair -> words index.
//
// Invariants:
//   - freq[p] > 0 for every stored pair; absent means zero.
//   - words[p] contains k iff the word stored under k has p at some adjacent position.
//   - every pair in freq has a queue candidate carrying its current frequency,
//     once dirty pairs are flushed.
type pairIndex struct {
	freq  map[Pair]uint64
	words map[Pair]map[wordKey]struct{}

	queue candidateQueue
	dirty map[Pair]struct{}
}

func newPairIndex() *pairIndex {
	return &pairIndex{
		freq:  make(map[Pair]uint64),
		words: make(map[Pair]map[wordKey]struct{}),
		dirty: make(map[Pair]struct{}),
	}
}

// buildIndex visits every adjacent position of every word once.
func buildIndex(words wordSet, workers int) *pairIndex {
	keys := make([]wordKey, 0, len(words))
	for k, e := range words {
		if len(e.tokens) >= 2 {
			keys = append(keys, k)
		}
	}

	var ix *pairIndex
	if workers <= 1 || len(keys) < 2*minShard {
		ix = newPairIndex()
		for _, k := range keys {
			e := words[k]
			ix.addPairs(k, e.tokens, e.count)
		}
	} else {
		shards := splitShards(len(keys), workers)
		partial := make([]*pairIndex, len(shards))

		var wg sync.WaitGroup
		for i, sh := range shards {
			wg.Add(1)
			go func(i, lo, hi int) {
				defer wg.Done()
				p := newPairIndex()
				for _, k := range keys[lo:hi] {
					e := words[k]
					p.addPairs(k, e.tokens, e.count)
				}
				partial[i] = p
			}(i, sh[0], sh[1])
		}
		wg.Wait()

		ix = partial[0]
		for _, p := range partial[1:] {
			ix.absorb(p)
		}
	}

	ix.rebuildQueue()
	return ix
}

// absorb sums another partial index into ix.
func (ix *pairIndex) absorb(o *pairIndex) {
	for p, f := range o.freq {
		ix.freq[p] = addCount(ix.freq[p], f, "pair")
	}
	for p, set := range o.words {
		dst := ix.words[p]
		if dst == nil {
			ix.words[p] = set
			continue
		}
		for k := range set {
			dst[k] = struct{}{}
		}
	}
}

// addPairs adds count to every adjacent pair of tokens and registers key under it.
func (ix *pairIndex) addPairs(key wordKey, tokens Word, count uint64) {
	for i := 0; i+1 < len(tokens); i++ {
		p := Pair{Left: tokens[i], Right: tokens[i+1]}
		ix.freq[p] = addCount(ix.freq[p], count, "pair")

		set := ix.words[p]
		if set == nil {
			set = make(map[wordKey]struct{})
			ix.words[p] = set
		}
		set[key] = struct{}{}
		ix.dirty[p] = struct{}{}
	}
}

// removePairs takes back what addPairs contributed for the same word.
func (ix *pairIndex) removePairs(key wordKey, tokens Word, count uint64) {
	for i := 0; i+1 < len(tokens); i++ {
		p := Pair{Left: tokens[i], Right: tokens[i+1]}

		f := ix.freq[p]
		if f < count {
			panic(errors.Errorf("bpe: frequency of %q+%q below word count (%d < %d)", p.Left, p.Right, f, count))
		}
		if f == count {
			delete(ix.freq, p)
		} else {
			ix.freq[p] = f - count
		}

		if set, ok := ix.words[p]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(ix.words, p)
			}
		}
		ix.dirty[p] = struct{}{}
	}
}

// drain removes and returns the word set registered under p, sorted so that
// updates are applied in a fixed order.
func (ix *pairIndex) drain(p Pair) []wordKey {
	set := ix.words[p]
	delete(ix.words, p)

	keys := make([]wordKey, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// best returns the pair with the highest frequency, the smallest pair on ties.
func (ix *pairIndex) best() (Pair, uint64, bool) {
	ix.flush()
	for ix.queue.Len() > 0 {
		c := heap.Pop(&ix.queue).(candidate)
		if f, ok := ix.freq[c.pair]; ok && f == c.freq {
			return c.pair, c.freq, true
		}
	}
	return Pair{}, 0, false
}

// flush queues the current frequency of every pair touched since the last flush.
// Older candidates for the same pair become stale and are skipped when popped.
func (ix *pairIndex) flush() {
	if ix.queue.Len() > 4*len(ix.freq)+1024 {
		ix.rebuildQueue()
		return
	}
	for p := range ix.dirty {
		if f, ok := ix.freq[p]; ok {
			heap.Push(&ix.queue, candidate{pair: p, freq: f})
		}
		delete(ix.dirty, p)
	}
}

// rebuildQueue drops all candidates and queues one per stored pair.
func (ix *pairIndex) rebuildQueue() {
	q := make(candidateQueue, 0, len(ix.freq))
	for p, f := range ix.freq {
		q = append(q, candidate{pair: p, freq: f})
	}
	heap.Init(&q)
	ix.queue = q
	clear(ix.dirty)
}

type candidate struct {
	pair Pair
	freq uint64
}

// candidateQueue is a max-heap on frequency; equal frequencies pop the smaller pair first.
type candidateQueue []candidate

func (q candidateQueue) Len() int { return len(q) }
func (q candidateQueue) Less(i, j int) bool {
	if q[i].freq != q[j].freq {
		return q[i].freq > q[j].freq
	}
	return q[i].pair.Less(q[j].pair)
}
func (q candidateQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *candidateQueue) Push(x any)   { *q = append(*q, x.(candidate)) }
func (q *candidateQueue) Pop() any {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}
