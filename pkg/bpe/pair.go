// Package bpe discovers the merge list of a byte-level BPE vocabulary.
//
// Training starts from pre-tokenized words (token sequences with corpus counts),
// keeps pair frequencies up to date incrementally after every merge, and always
// picks the most frequent pair, breaking ties by the smallest pair in byte order.
// Identical input yields an identical merge list regardless of map iteration order.
package bpe

// BaseAlphabetSize is the number of single-byte tokens every vocabulary starts with.
const BaseAlphabetSize = 256

// Word is an ordered sequence of tokens. Each token holds raw bytes in a string.
type Word []string

// SplitBytes returns the initial form of a word: one token per byte.
func SplitBytes(b []byte) Word {
	w := make(Word, len(b))
	for i := range b {
		w[i] = string(b[i : i+1])
	}
	return w
}

// WordCount is one pre-tokenized word and the number of times it occurred.
type WordCount struct {
	Tokens Word
	Count  uint64
}

// Pair is two adjacent tokens. Pairs are comparable and used directly as map keys.
type Pair struct {
	Left  string
	Right string
}

// Less reports whether p sorts before o: by Left, then by Right, in byte order.
func (p Pair) Less(o Pair) bool {
	if p.Left != o.Left {
		return p.Left < o.Left
	}
	return p.Right < o.Right
}

// Merged returns the token produced by merging the pair.
func (p Pair) Merged() string {
	return p.Left + p.Right
}

// Bytes returns copies of both tokens.
func (p Pair) Bytes() ([]byte, []byte) {
	return []byte(p.Left), []byte(p.Right)
}

// MergeBudget returns how many merges fit into a vocabulary of vocabSize entries
// once the byte alphabet and numSpecial reserved slots are taken.
func MergeBudget(vocabSize, numSpecial int) int {
	if numSpecial < 0 {
		numSpecial = 0
	}
	n := vocabSize - BaseAlphabetSize - numSpecial
	if n < 0 {
		return 0
	}
	return n
}
