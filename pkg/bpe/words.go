package bpe

import (
	"encoding/binary"
	"math/bits"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// wordKey is the structural identity of a token sequence. Every token is
// prefixed with its uvarint length, so two keys are equal iff the sequences are.
type wordKey string

func keyOf(w Word) wordKey {
	n := 0
	for _, t := range w {
		n += len(t) + 1
	}

	var sb strings.Builder
	sb.Grow(n)
	var lenBuf [binary.MaxVarintLen64]byte
	for _, t := range w {
		l := binary.PutUvarint(lenBuf[:], uint64(len(t)))
		sb.Write(lenBuf[:l])
		sb.WriteString(t)
	}
	return wordKey(sb.String())
}

type wordEntry struct {
	tokens Word
	count  uint64
}

// wordSet is the word multiset: one entry per distinct token sequence.
// Entries always have a positive count.
type wordSet map[wordKey]*wordEntry

// add merges count occurrences of tokens into the set.
func (s wordSet) add(key wordKey, tokens Word, count uint64) {
	if count == 0 {
		return
	}
	if e, ok := s[key]; ok {
		e.count = addCount(e.count, count, "word")
		return
	}
	s[key] = &wordEntry{tokens: tokens, count: count}
}

// merge folds every entry of o into s.
func (s wordSet) merge(o wordSet) {
	for k, e := range o {
		s.add(k, e.tokens, e.count)
	}
}

// addCount adds two aggregate counts and panics instead of wrapping around.
func addCount(a, b uint64, what string) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		panic(errors.Errorf("bpe: %s count overflow (%d + %d)", what, a, b))
	}
	return sum
}

// aggregate builds the word multiset from raw input entries. With more than one
// worker the input is split into contiguous shards aggregated concurrently and
// reduced in shard order; summation makes the result independent of sharding.
func aggregate(input []WordCount, workers int) wordSet {
	if workers <= 1 || len(input) < 2*minShard {
		s := make(wordSet, len(input))
		aggregateInto(s, input)
		return s
	}

	shards := splitShards(len(input), workers)
	partial := make([]wordSet, len(shards))

	var wg sync.WaitGroup
	for i, sh := range shards {
		wg.Add(1)
		go func(i int, lo, hi int) {
			defer wg.Done()
			s := make(wordSet, hi-lo)
			aggregateInto(s, input[lo:hi])
			partial[i] = s
		}(i, sh[0], sh[1])
	}
	wg.Wait()

	out := partial[0]
	for _, p := range partial[1:] {
		out.merge(p)
	}
	return out
}

func aggregateInto(s wordSet, input []WordCount) {
	for _, wc := range input {
		if wc.Count == 0 {
			continue
		}
		s.add(keyOf(wc.Tokens), wc.Tokens, wc.Count)
	}
}

// minShard is the smallest amount of work worth handing to a goroutine.
const minShard = 256

// shardsPerWorker over-splits rewrite batches so uneven words balance out
// across the workers.
const shardsPerWorker = 4

// splitShards cuts [0,n) into at most workers contiguous [lo,hi) ranges.
func splitShards(n, workers int) [][2]int {
	if workers > n/minShard {
		workers = n / minShard
	}
	if workers < 1 {
		workers = 1
	}
	size := (n + workers - 1) / workers

	shards := make([][2]int, 0, workers)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		shards = append(shards, [2]int{lo, hi})
	}
	return shards
}
