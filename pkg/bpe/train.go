package bpe

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Options tunes a training run. The zero value trains serially without logging.
type Options struct {
	// Workers > 1 shards aggregation and index construction, and rewrites the
	// words affected by each merge concurrently. The merge list does not depend on it.
	Workers int

	// Logger receives progress records. Nil discards them.
	Logger *slog.Logger

	// ProgressEvery logs a progress record every N merges. Zero disables it.
	ProgressEvery int

	// OnMerge is called for every recorded merge with its 0-based step and the
	// pair frequency at selection time.
	OnMerge func(step int, p Pair, freq uint64)

	// Verify recomputes all pair statistics from scratch after every merge and
	// panics on any mismatch. Slow; meant for debugging.
	Verify bool
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Train learns up to MergeBudget(vocabSize, numSpecial) merges from words and
// returns them in the order they were selected.
func Train(words []WordCount, vocabSize, numSpecial int) []Pair {
	return TrainWithOptions(words, vocabSize, numSpecial, Options{})
}

// TrainWithOptions is Train with explicit options.
func TrainWithOptions(words []WordCount, vocabSize, numSpecial int, opts Options) []Pair {
	budget := MergeBudget(vocabSize, numSpecial)
	log := opts.logger()
	if budget == 0 {
		log.Debug("merge budget is zero", "vocab_size", vocabSize, "special_tokens", numSpecial)
		return nil
	}

	start := time.Now()
	t := newTrainer(words, opts)
	log.Debug("pair index built",
		"words", len(t.words),
		"pairs", len(t.index.freq),
		"elapsed", time.Since(start).Round(time.Millisecond))

	merges := make([]Pair, 0, budget)
	for len(merges) < budget {
		p, freq, ok := t.index.best()
		if !ok {
			log.Info("no pairs left to merge", "merges", len(merges), "budget", budget)
			break
		}

		step := len(merges)
		merges = append(merges, p)
		if opts.OnMerge != nil {
			opts.OnMerge(step, p, freq)
		}

		t.merge(p)

		if opts.Verify {
			if err := t.check(); err != nil {
				panic(errors.Wrapf(err, "bpe: inconsistent state after merge %d", step))
			}
		}
		if opts.ProgressEvery > 0 && (step+1)%opts.ProgressEvery == 0 {
			log.Info("merge progress",
				"step", step+1,
				"budget", budget,
				"freq", freq,
				"pairs", len(t.index.freq),
				"words", len(t.words))
		}
	}

	log.Info("training finished",
		"merges", len(merges),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return merges
}

// trainer owns the word multiset and pair index for the duration of one run.
type trainer struct {
	words   wordSet
	index   *pairIndex
	workers int
}

func newTrainer(input []WordCount, opts Options) *trainer {
	words := aggregate(input, opts.Workers)
	return &trainer{
		words:   words,
		index:   buildIndex(words, opts.Workers),
		workers: opts.Workers,
	}
}

// merge rewrites every word containing p and updates the statistics.
//
// All drained words leave the multiset and the index before any rewritten word
// is added back. A rewritten word may still contain p (when a token is empty)
// and may land on the key of another drained word; each drained word is still
// rewritten exactly once with its own count.
func (t *trainer) merge(p Pair) {
	keys := t.index.drain(p)

	snap := make([]wordEntry, 0, len(keys))
	for _, k := range keys {
		e, ok := t.words[k]
		if !ok {
			continue
		}
		snap = append(snap, wordEntry{tokens: e.tokens, count: e.count})
		delete(t.words, k)
		t.index.removePairs(k, e.tokens, e.count)
	}

	for i, nw := range t.rewriteAll(snap, p) {
		count := snap[i].count
		t.index.addPairs(nw.key, nw.tokens, count)
		t.words.add(nw.key, nw.tokens, count)
	}
}

type rewrittenWord struct {
	tokens Word
	key    wordKey
}

// rewriteAll computes the merged form of every entry. Rewrites only read their
// own entry, so large batches are split into shards and rewritten by at most
// t.workers goroutines at a time.
func (t *trainer) rewriteAll(entries []wordEntry, p Pair) []rewrittenWord {
	out := make([]rewrittenWord, len(entries))
	rewriteRange := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			w := Rewrite(entries[i].tokens, p)
			out[i] = rewrittenWord{tokens: w, key: keyOf(w)}
		}
	}

	if t.workers <= 1 || len(entries) < 2*minShard {
		rewriteRange(0, len(entries))
		return out
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, t.workers)
	for _, sh := range splitShards(len(entries), t.workers*shardsPerWorker) {
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			rewriteRange(lo, hi)
		}(sh[0], sh[1])
	}
	wg.Wait()
	return out
}

// check recomputes pair statistics from the word multiset and compares them
// with the incrementally maintained index.
func (t *trainer) check() error {
	want := newPairIndex()
	for k, e := range t.words {
		if e.count == 0 {
			return errors.Errorf("word %q stored with zero count", e.tokens)
		}
		if keyOf(e.tokens) != k {
			return errors.Errorf("word %q stored under a foreign key", e.tokens)
		}
		want.addPairs(k, e.tokens, e.count)
	}

	if len(want.freq) != len(t.index.freq) {
		return errors.Errorf("pair table has %d pairs, recount has %d", len(t.index.freq), len(want.freq))
	}
	for p, f := range want.freq {
		if got := t.index.freq[p]; got != f {
			return errors.Errorf("pair %q+%q: frequency %d, recount %d", p.Left, p.Right, got, f)
		}
	}

	if len(want.words) != len(t.index.words) {
		return errors.Errorf("pair index has %d pairs, recount has %d", len(t.index.words), len(want.words))
	}
	for p, set := range want.words {
		got := t.index.words[p]
		if len(got) != len(set) {
			return errors.Errorf("pair %q+%q: %d words indexed, recount has %d", p.Left, p.Right, len(got), len(set))
		}
		for k := range set {
			if _, ok := got[k]; !ok {
				return errors.Errorf("pair %q+%q: word %q missing from index", p.Left, p.Right, t.words[k].tokens)
			}
		}
	}
	return nil
}
