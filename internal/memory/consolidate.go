package memory

import (
	"strings"

	"github.com/nidhogg/flowerbed/internal/flower"
)

const digestPrefix = "Digest: "

// ConsolidateOptions controls out-of-band long-term consolidation.
type ConsolidateOptions struct {
	LongTermCap  int // consolidation folds fragments until long-term fits
	BatchSize    int // oldest fragments folded into one digest
	DigestMaxLen int // runes kept per folded fragment in a digest
}

// DefaultConsolidateOptions returns sensible defaults.
func DefaultConsolidateOptions() ConsolidateOptions {
	return ConsolidateOptions{
		LongTermCap:  50,
		BatchSize:    5,
		DigestMaxLen: 80,
	}
}

// Consolidate returns a denser copy of mem. Duplicate long-term contents are
// dropped (earliest kept), then the oldest fragments are folded into digest
// fragments until long-term fits the cap. A digest keeps the highest
// importance and the latest timestamp of its batch. Short-term and episodic
// tiers are copied unchanged.
func Consolidate(mem flower.Memory, opts ConsolidateOptions) flower.Memory {
	if opts.BatchSize < 2 {
		opts.BatchSize = DefaultConsolidateOptions().BatchSize
	}
	out := mem.Clone()

	seen := make(map[string]bool, len(out.LongTerm))
	unique := out.LongTerm[:0]
	for _, f := range out.LongTerm {
		if seen[f.Content] {
			continue
		}
		seen[f.Content] = true
		unique = append(unique, f)
	}
	out.LongTerm = unique

	if opts.LongTermCap <= 0 {
		return out
	}
	for len(out.LongTerm) > opts.LongTermCap {
		n := opts.BatchSize
		if n > len(out.LongTerm) {
			n = len(out.LongTerm)
		}
		digest := fold(out.LongTerm[:n], opts.DigestMaxLen)
		rest := out.LongTerm[n:]
		out.LongTerm = append([]flower.Fragment{digest}, rest...)
	}
	return out
}

func fold(batch []flower.Fragment, maxLen int) flower.Fragment {
	parts := make([]string, 0, len(batch))
	var d flower.Fragment
	for i, f := range batch {
		content := strings.TrimPrefix(f.Content, digestPrefix)
		content = strings.ReplaceAll(content, "\n", " ")
		if maxLen > 0 {
			content = truncateRunes(content, maxLen)
		}
		parts = append(parts, content)
		if i == 0 || f.Importance > d.Importance {
			d.Importance = f.Importance
		}
		if f.Timestamp.After(d.Timestamp) {
			d.Timestamp = f.Timestamp
		}
	}
	d.Content = digestPrefix + strings.Join(parts, " | ")
	return d
}
