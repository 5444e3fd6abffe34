package chunker

import (
	"iter"
	"slices"
)

const (
	DefaultSize    = 2000
	DefaultOverlap = 200
)

// Span is one window of the source text. Start and End are character (rune)
// offsets into the source; End is exclusive.
type Span struct {
	Text  string
	Start int
	End   int
}

type config struct {
	size    int
	overlap int
}

type Option func(*config)

// WithSize sets the window size in characters. Non-positive values keep the default.
func WithSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets how many characters consecutive windows share
func WithOverlap(overlap int) Option {
	return func(c *config) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

func newConfig(opts []Option) config {
	c := config{size: DefaultSize, overlap: DefaultOverlap}
	for _, opt := range opts {
		opt(&c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size - 1
	}
	return c
}

// Chunk splits text into overlapping fixed-size windows. The sequence is lazy
// and can be ranged over any number of times. Empty text yields nothing; text
// no longer than the window size yields exactly one span holding the whole text.
func Chunk(text string, opts ...Option) iter.Seq[Span] {
	cfg := newConfig(opts)

	return func(yield func(Span) bool) {
		runes := []rune(text)
		n := len(runes)
		if n == 0 {
			return
		}
		if n <= cfg.size {
			yield(Span{Text: text, Start: 0, End: n})
			return
		}

		step := cfg.size - cfg.overlap
		for start := 0; ; start += step {
			end := min(start+cfg.size, n)
			if !yield(Span{Text: string(runes[start:end]), Start: start, End: end}) {
				return
			}
			if end == n {
				return
			}
		}
	}
}

// Split is Chunk collected into a slice
func Split(text string, opts ...Option) []Span {
	return slices.Collect(Chunk(text, opts...))
}
