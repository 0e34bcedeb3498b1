// Package wordfile reads pre-tokenized word counts and writes merge lists.
//
// Word files hold one word per line:
//
//	<count>\t<token> <token> ...     (FormatB64: each token is standard base64)
//	<count>\t"<Go-quoted bytes>"     (FormatQuoted: one token per byte)
//
// Blank lines and lines starting with '#' are ignored. Merge files hold one
// merge per line as two base64 tokens separated by a space, in selection order.
package wordfile

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ha1tch/bpemerge/pkg/bpe"
)

// Format selects how a word is written on a line.
type Format int

const (
	FormatB64    Format = iota // base64 tokens separated by spaces
	FormatQuoted               // Go-quoted string split into single bytes
)

func (f Format) String() string {
	switch f {
	case FormatB64:
		return "b64"
	case FormatQuoted:
		return "quoted"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name to its Format.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "b64", "base64":
		return FormatB64, nil
	case "quoted", "q":
		return FormatQuoted, nil
	default:
		return 0, errors.Errorf("unknown word format %q", name)
	}
}

// maxLine bounds a single word or merge line.
const maxLine = 16 << 20

// ReadWords parses every word line from r. Repeated words are returned as
// separate entries; the trainer sums them.
func ReadWords(r io.Reader, f Format) ([]bpe.WordCount, error) {
	var words []bpe.WordCount

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		wc, err := parseLine(line, f)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", lineNo)
		}
		words = append(words, wc)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading words")
	}
	return words, nil
}

func parseLine(line string, f Format) (bpe.WordCount, error) {
	countStr, rest, ok := strings.Cut(line, "\t")
	if !ok {
		return bpe.WordCount{}, errors.New("missing tab after count")
	}

	count, err := strconv.ParseUint(countStr, 10, 64)
	if err != nil {
		return bpe.WordCount{}, errors.Errorf("invalid count: %s", countStr)
	}

	switch f {
	case FormatQuoted:
		s, err := strconv.Unquote(rest)
		if err != nil {
			return bpe.WordCount{}, errors.Errorf("invalid quoted word: %s", rest)
		}
		return bpe.WordCount{Tokens: bpe.SplitBytes([]byte(s)), Count: count}, nil

	case FormatB64:
		fields := strings.Fields(rest)
		tokens := make(bpe.Word, len(fields))
		for i, field := range fields {
			b, err := base64.StdEncoding.DecodeString(field)
			if err != nil {
				return bpe.WordCount{}, errors.Errorf("invalid base64: %s", field)
			}
			tokens[i] = string(b)
		}
		return bpe.WordCount{Tokens: tokens, Count: count}, nil

	default:
		return bpe.WordCount{}, errors.Errorf("unsupported format %v", f)
	}
}

// WriteWords writes words in the given format, one per line.
func WriteWords(w io.Writer, words []bpe.WordCount, f Format) error {
	bw := bufio.NewWriter(w)
	for _, wc := range words {
		var err error
		switch f {
		case FormatQuoted:
			_, err = fmt.Fprintf(bw, "%d\t%s\n", wc.Count, strconv.Quote(strings.Join(wc.Tokens, "")))
		default:
			_, err = fmt.Fprintf(bw, "%d\t%s\n", wc.Count, encodeTokens(wc.Tokens))
		}
		if err != nil {
			return errors.Wrap(err, "writing words")
		}
	}
	return errors.Wrap(bw.Flush(), "writing words")
}

func encodeTokens(tokens bpe.Word) string {
	enc := make([]string, len(tokens))
	for i, t := range tokens {
		enc[i] = base64.StdEncoding.EncodeToString([]byte(t))
	}
	return strings.Join(enc, " ")
}

// WriteMerges writes one "base64(left) base64(right)" line per merge.
func WriteMerges(w io.Writer, merges []bpe.Pair) error {
	bw := bufio.NewWriter(w)
	for _, m := range merges {
		left, right := m.Bytes()
		if _, err := fmt.Fprintf(bw, "%s %s\n",
			base64.StdEncoding.EncodeToString(left),
			base64.StdEncoding.EncodeToString(right)); err != nil {
			return errors.Wrap(err, "writing merges")
		}
	}
	return errors.Wrap(bw.Flush(), "writing merges")
}

// ReadMerges parses a merge file written by WriteMerges.
func ReadMerges(r io.Reader) ([]bpe.Pair, error) {
	var merges []bpe.Pair
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			return nil, errors.Errorf("line %d: want 2 tokens, got %d", lineNo, len(parts))
		}
		left, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, errors.Errorf("line %d: invalid base64: %s", lineNo, parts[0])
		}
		right, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, errors.Errorf("line %d: invalid base64: %s", lineNo, parts[1])
		}
		merges = append(merges, bpe.Pair{Left: string(left), Right: string(right)})
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading merges")
	}
	return merges, nil
}
