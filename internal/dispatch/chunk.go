package dispatch

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Separator joins blocks inside one chunk.
const Separator = "\n\n"

// Chunker partitions rendered blocks into outbound payloads of at most
// limit characters (runes). Blocks are never split, reordered or dropped.
type Chunker interface {
	Chunk(blocks []string, limit int) []string
}

// NewChunker returns the chunker for a configured mode: "greedy" (default)
// or "count".
func NewChunker(mode string) (Chunker, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "greedy":
		return GreedyChunker{}, nil
	case "count":
		return CountChunker{}, nil
	default:
		return nil, fmt.Errorf("unknown chunking mode %q", mode)
	}
}

// CountChunker sizes groups by item count:
//
//	total = len(join(blocks, " "))
//	k     = ceil(total / limit)
//	size  = ceil(len(blocks) / k)
//
// and emits contiguous groups of size blocks. With uneven block lengths a
// group can exceed limit; the transport splits such payloads again.
type CountChunker struct{}

func (CountChunker) Chunk(blocks []string, limit int) []string {
	n := len(blocks)
	if n == 0 {
		return nil
	}
	if limit <= 0 {
		return []string{strings.Join(blocks, Separator)}
	}
	total := utf8.RuneCountInString(strings.Join(blocks, " "))
	k := ceilDiv(total, limit)
	if k == 0 {
		return nil
	}
	size := ceilDiv(n, k)

	out := make([]string, 0, ceilDiv(n, size))
	for i := 0; i < n; i += size {
		end := min(i+size, n)
		out = append(out, strings.Join(blocks[i:end], Separator))
	}
	return out
}

// GreedyChunker packs blocks in order, starting a new chunk whenever the
// next block would push the current one past limit. Every chunk fits
// unless a single block is longer than limit on its own.
type GreedyChunker struct{}

func (GreedyChunker) Chunk(blocks []string, limit int) []string {
	if len(blocks) == 0 {
		return nil
	}
	if limit <= 0 {
		return []string{strings.Join(blocks, Separator)}
	}
	sepLen := utf8.RuneCountInString(Separator)

	var (
		out     []string
		cur     strings.Builder
		curLen  int
		inChunk int
	)
	flush := func() {
		if inChunk == 0 {
			return
		}
		out = append(out, cur.String())
		cur.Reset()
		curLen, inChunk = 0, 0
	}
	for _, b := range blocks {
		bl := utf8.RuneCountInString(b)
		if inChunk > 0 && curLen+sepLen+bl > limit {
			flush()
		}
		if inChunk > 0 {
			cur.WriteString(Separator)
			curLen += sepLen
		}
		cur.WriteString(b)
		curLen += bl
		inChunk++
	}
	flush()
	return out
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
