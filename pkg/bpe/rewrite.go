package bpe

// Rewrite merges every occurrence of p in tokens, scanning left to right.
// A matched position consumes both tokens, so overlapping matches are not
// merged twice: with p = (a, a), "a a a" becomes "aa a".
// The input is never modified.
func Rewrite(tokens Word, p Pair) Word {
	merged := p.Merged()
	out := make(Word, 0, len(tokens))

	i := 0
	for i < len(tokens) {
		if i+1 < len(tokens) && tokens[i] == p.Left && tokens[i+1] == p.Right {
			out = append(out, merged)
			i += 2
		} else {
			out = append(out, tokens[i])
			i++
		}
	}
	return out
}

// Apply replays a merge list on one word in the order the merges were learned.
func Apply(merges []Pair, tokens Word) Word {
	out := append(Word(nil), tokens...)
	for _, p := range merges {
		if len(out) < 2 {
			break
		}
		if contains(out, p) {
			out = Rewrite(out, p)
		}
	}
	return out
}

func contains(tokens Word, p Pair) bool {
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i] == p.Left && tokens[i+1] == p.Right {
			return true
		}
	}
	return false
}
