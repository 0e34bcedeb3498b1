// Command mkmerges learns a BPE merge list from pre-tokenized word counts.
//
// Usage:
//
//	mkmerges [-c config.yaml] [-n vocab] [-s specials] [-w workers] [-f b64|quoted]
//	         [-format text|go] [-pkg name] [-var name] [-o out] [-qv] words...
//	mkmerges -apply merges.txt [-f b64|quoted] [-o out] words...
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ha1tch/bpemerge/pkg/bpe"
	"github.com/ha1tch/bpemerge/pkg/config"
	"github.com/ha1tch/bpemerge/pkg/wordfile"
)

var (
	configPath = flag.String("c", "", "YAML config `file`")
	vocabSize  = flag.Int("n", 0, "target vocabulary size (base bytes + specials + merges)")
	specials   = flag.Int("s", 0, "number of reserved special-token slots")
	workers    = flag.Int("w", 0, "worker goroutines for aggregation and rewrites")
	inFormat   = flag.String("f", "", "word file format: b64 or quoted")
	outFormat  = flag.String("format", "", "output format: text or go")
	goPackage  = flag.String("pkg", "merges", "package name for -format go")
	varName    = flag.String("var", "Merges", "variable name for -format go")
	output     = flag.String("o", "-", "output `file` (.gz/.zst compress)")
	applyPath  = flag.String("apply", "", "segment the words with an existing merge `file` instead of training")
	verify     = flag.Bool("verify", false, "recheck pair statistics after every merge (slow)")
	quiet      = flag.Bool("q", false, "quiet operation")
	verbose    = flag.Bool("v", false, "verbose operation (log every merge)")
	help       = flag.Bool("h", false, "display this help")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if *help {
		usage()
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "mkmerges: missing word file arguments")
		fmt.Fprintln(os.Stderr, "Try 'mkmerges -h' for more information.")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("%v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}

	log := newLogger()

	format, err := wordfile.ParseFormat(cfg.InputFormat)
	if err != nil {
		fatal("%v", err)
	}

	start := time.Now()
	words, err := readInputs(flag.Args(), format)
	if err != nil {
		fatal("%v", err)
	}
	log.Info("words loaded", "entries", len(words), "files", flag.NArg(),
		"elapsed", time.Since(start).Round(time.Millisecond))

	out, err := wordfile.Create(*output)
	if err != nil {
		fatal("cannot create '%s': %v", *output, err)
	}

	if *applyPath != "" {
		err = segment(out, *applyPath, words)
	} else {
		merges := train(words, cfg, log)
		err = writeOutput(out, merges, cfg.OutputFormat)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fatal("cannot write '%s': %v", *output, err)
	}
}

// applyFlags lets explicitly set command-line flags override the config.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.VocabSize = *vocabSize
		case "s":
			cfg.SpecialTokens = make([]string, *specials)
		case "w":
			cfg.Workers = *workers
		case "f":
			cfg.InputFormat = *inFormat
		case "format":
			cfg.OutputFormat = *outFormat
		}
	})
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch {
	case *quiet:
		level = slog.LevelWarn
	case *verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// readInputs concatenates the entries of every word file. Duplicates across
// files are left for the trainer to sum.
func readInputs(paths []string, f wordfile.Format) ([]bpe.WordCount, error) {
	var words []bpe.WordCount
	for _, path := range paths {
		in, err := wordfile.Open(path)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot open '%s'", path)
		}
		ws, err := wordfile.ReadWords(in, f)
		in.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "%s", path)
		}
		words = append(words, ws...)
	}
	return words, nil
}

func train(words []bpe.WordCount, cfg *config.Config, log *slog.Logger) []bpe.Pair {
	opts := bpe.Options{
		Workers:       cfg.Workers,
		Logger:        log,
		ProgressEvery: cfg.ProgressEvery,
		Verify:        *verify,
	}
	if *verbose {
		opts.OnMerge = func(step int, p bpe.Pair, freq uint64) {
			log.Debug("merge", "step", step, "left", p.Left, "right", p.Right, "freq", freq)
		}
	}

	log.Info("training",
		"vocab_size", cfg.VocabSize,
		"special_tokens", cfg.NumSpecial(),
		"budget", bpe.MergeBudget(cfg.VocabSize, cfg.NumSpecial()))
	return bpe.TrainWithOptions(words, cfg.VocabSize, cfg.NumSpecial(), opts)
}

func writeOutput(w io.Writer, merges []bpe.Pair, format string) error {
	if format == "go" {
		return writeGoSource(w, merges)
	}
	return wordfile.WriteMerges(w, merges)
}

// segment rewrites every word with a previously learned merge list.
func segment(w io.Writer, mergesPath string, words []bpe.WordCount) error {
	in, err := wordfile.Open(mergesPath)
	if err != nil {
		return errors.Wrapf(err, "cannot open '%s'", mergesPath)
	}
	merges, err := wordfile.ReadMerges(in)
	in.Close()
	if err != nil {
		return errors.Wrapf(err, "%s", mergesPath)
	}

	out := make([]bpe.WordCount, len(words))
	for i, wc := range words {
		out[i] = bpe.WordCount{Tokens: bpe.Apply(merges, wc.Tokens), Count: wc.Count}
	}
	return wordfile.WriteWords(w, out, wordfile.FormatB64)
}

// writeGoSource emits the merges as a Go [][2]string literal.
func writeGoSource(w io.Writer, merges []bpe.Pair) error {
	var sb strings.Builder
	sb.WriteString("// Code generated by mkmerges. DO NOT EDIT.\n\n")
	fmt.Fprintf(&sb, "package %s\n\n", *goPackage)
	fmt.Fprintf(&sb, "// %s lists %d BPE merges in the order they were learned.\n", *varName, len(merges))
	fmt.Fprintf(&sb, "var %s = [][2]string{\n", *varName)
	for _, m := range merges {
		fmt.Fprintf(&sb, "\t{%s, %s},\n", goStringLiteral(m.Left), goStringLiteral(m.Right))
	}
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}

// goStringLiteral quotes s byte by byte, escaping everything outside printable ASCII.
func goStringLiteral(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&sb, `\x%02x`, c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: mkmerges [options] words...
       mkmerges -apply merges.txt [options] words...

Learn a byte-level BPE merge list from pre-tokenized word counts.

Word files hold one word per line, "<count><TAB><tokens>". With -f b64 the
tokens are base64 strings separated by spaces; with -f quoted the word is a
Go-quoted string split into single bytes. gzip and zstd input is detected
automatically. Repeated words are summed.

Options:
  -c file       YAML config (vocab_size, special_tokens, workers, ...)
  -n N          target vocabulary size; merges = N - 256 - specials
  -s N          reserved special-token slots
  -w N          worker goroutines (default serial)
  -f fmt        word file format: b64 (default) or quoted
  -format fmt   output: text (base64 merge pairs) or go (Go source)
  -pkg name     package name for -format go (default merges)
  -var name     variable name for -format go (default Merges)
  -o file       output file, "-" for stdout; .gz/.zst are compressed
  -apply file   segment the input words with an existing merge file
  -verify       recheck pair statistics after every merge (slow)
  -q            quiet operation
  -v            verbose operation (log every merge)
  -h            display this help

Environment:
  BPE_VOCAB_SIZE, BPE_SPECIAL_TOKENS, BPE_WORKERS, BPE_PROGRESS_EVERY,
  BPE_INPUT_FORMAT, BPE_OUTPUT_FORMAT (also read from .env)

Examples:
  mkmerges -n 1000 -s 1 -o merges.txt words.txt
  mkmerges -c train.yaml -w 8 -o merges.txt.zst words-*.txt.gz
  mkmerges -n 300 -format go -pkg vocab -o merges.go words.txt
  mkmerges -apply merges.txt words.txt

`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "mkmerges: "+format+"\n", args...)
	os.Exit(1)
}
