package wordfile

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/bpemerge/pkg/bpe"
)

func TestParseFormat(t *testing.T) {
	testCases := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"b64", FormatB64, false},
		{"base64", FormatB64, false},
		{"Quoted", FormatQuoted, false},
		{"q", FormatQuoted, false},
		{"json", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFormat(tc.name)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadWordsB64(t *testing.T) {
	// "bA==" = "l", "bw==" = "o", "dw==" = "w", "bG8=" = "lo"
	input := "# comment\n" +
		"5\tbA== bw== dw==\n" +
		"\n" +
		"2\tbG8= dw==\n" +
		"0\t\n"

	words, err := ReadWords(strings.NewReader(input), FormatB64)
	require.NoError(t, err)

	assert.Equal(t, []bpe.WordCount{
		{Tokens: bpe.Word{"l", "o", "w"}, Count: 5},
		{Tokens: bpe.Word{"lo", "w"}, Count: 2},
		{Tokens: bpe.Word{}, Count: 0},
	}, words)
}

func TestReadWordsQuoted(t *testing.T) {
	input := "3\t\" the\"\n" +
		"1\t\"\\xff\\x00\"\n"

	words, err := ReadWords(strings.NewReader(input), FormatQuoted)
	require.NoError(t, err)

	assert.Equal(t, []bpe.WordCount{
		{Tokens: bpe.Word{" ", "t", "h", "e"}, Count: 3},
		{Tokens: bpe.Word{"\xff", "\x00"}, Count: 1},
	}, words)
}

func TestReadWordsErrors(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		f     Format
		want  string
	}{
		{"missing tab", "5 bA==\n", FormatB64, "line 1: missing tab"},
		{"bad count", "x\tbA==\n", FormatB64, "invalid count"},
		{"negative count", "-1\tbA==\n", FormatB64, "invalid count"},
		{"bad base64", "1\tbA== !!\n", FormatB64, "invalid base64"},
		{"bad quote", "1\tnot quoted\n", FormatQuoted, "invalid quoted word"},
		{"line number", "1\tbA==\n2\t%%\n", FormatB64, "line 2"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadWords(strings.NewReader(tc.input), tc.f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestWriteReadWords(t *testing.T) {
	words := []bpe.WordCount{
		{Tokens: bpe.Word{"he", "ll", "o"}, Count: 7},
		{Tokens: bpe.Word{"\x00", " ", "\xff"}, Count: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteWords(&buf, words, FormatB64))

	got, err := ReadWords(&buf, FormatB64)
	require.NoError(t, err)
	assert.Equal(t, words, got)

	buf.Reset()
	require.NoError(t, WriteWords(&buf, words[:1], FormatQuoted))
	assert.Equal(t, "7\t\"hello\"\n", buf.String())
}

func TestMergesRoundTrip(t *testing.T) {
	merges := []bpe.Pair{{Left: "l", Right: "o"}, {Left: "lo", Right: "w"}, {Left: " ", Right: "\xff"}}

	var buf bytes.Buffer
	require.NoError(t, WriteMerges(&buf, merges))
	assert.True(t, strings.HasPrefix(buf.String(), "bA== bw==\nbG8= dw==\n"))

	got, err := ReadMerges(&buf)
	require.NoError(t, err)
	assert.Equal(t, merges, got)
}

func TestMergesRoundTripLongTokens(t *testing.T) {
	long := strings.Repeat("ab", 100*1024)
	merges := []bpe.Pair{{Left: long, Right: "c"}, {Left: "x", Right: long + "d"}}

	var buf bytes.Buffer
	require.NoError(t, WriteMerges(&buf, merges))
	require.Greater(t, buf.Len(), 64*1024)

	got, err := ReadMerges(&buf)
	require.NoError(t, err)
	assert.Equal(t, merges, got)
}

func TestReadMergesErrors(t *testing.T) {
	_, err := ReadMerges(strings.NewReader("bA==\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want 2 tokens")

	_, err = ReadMerges(strings.NewReader("bA== %%\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid base64")
}

func TestDetect(t *testing.T) {
	assert.Equal(t, CompressionGzip, Detect([]byte{0x1f, 0x8b, 0x08}))
	assert.Equal(t, CompressionZstd, Detect([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}))
	assert.Equal(t, CompressionNone, Detect([]byte("5\tbA==")))
	assert.Equal(t, CompressionNone, Detect(nil))
}

func TestForPath(t *testing.T) {
	assert.Equal(t, CompressionGzip, ForPath("merges.txt.gz"))
	assert.Equal(t, CompressionZstd, ForPath("words.zst"))
	assert.Equal(t, CompressionNone, ForPath("merges.txt"))
}

func TestCreateOpenCompressed(t *testing.T) {
	dir := t.TempDir()
	words := []bpe.WordCount{
		{Tokens: bpe.SplitBytes([]byte("compression")), Count: 12},
		{Tokens: bpe.SplitBytes([]byte("press")), Count: 3},
	}

	for _, name := range []string{"words.txt", "words.txt.gz", "words.txt.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)

			out, err := Create(path)
			require.NoError(t, err)
			require.NoError(t, WriteWords(out, words, FormatB64))
			require.NoError(t, out.Close())

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, ForPath(name), Detect(raw))

			in, err := Open(path)
			require.NoError(t, err)
			defer in.Close()

			got, err := ReadWords(in, FormatB64)
			require.NoError(t, err)
			assert.Equal(t, words, got)
		})
	}
}

func TestNewReaderShortInput(t *testing.T) {
	r, err := NewReader(strings.NewReader("x"))
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	r, err = NewReader(strings.NewReader(""))
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}
