package extract

import (
	"math"
	"strings"
	"unicode"

	"github.com/renderbot/crawlserve/internal/crawler"
)

// DefaultMinWordThreshold marks blocks long enough to survive pruning
// regardless of their text density.
const DefaultMinWordThreshold = 50

// BM25 constants, standard Okapi parameterization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// ApplyFilter returns the subset of blocks that pass the configured content
// filter. The output is always a subset of the input, in input order, so
// the fit markdown can never grow past the raw markdown. A bm25 filter
// without a query falls back to the unfiltered blocks.
func ApplyFilter(blocks []Block, spec crawler.FilterSpec) []Block {
	switch spec.Kind {
	case crawler.FilterPruning:
		return pruneBlocks(blocks, spec.Threshold, DefaultMinWordThreshold)
	case crawler.FilterBM25:
		if strings.TrimSpace(spec.Query) == "" {
			return blocks
		}
		return bm25Blocks(blocks, spec.Query, spec.Threshold)
	default:
		return blocks
	}
}

// pruneBlocks drops low text-density blocks. The cutoff is dynamic per
// page: the configured threshold scales the mean density of the page, so
// boilerplate-heavy pages prune harder than plain-text ones. Blocks at or
// above the minimum word count are always kept.
func pruneBlocks(blocks []Block, threshold float64, minWords int) []Block {
	mean := meanDensity(blocks)
	if mean == 0 {
		return blocks
	}
	cut := threshold * mean

	kept := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Words() >= minWords || density(b) >= cut {
			kept = append(kept, b)
		}
	}
	return kept
}

func density(b Block) float64 {
	if b.HTMLLen == 0 {
		return 0
	}
	return float64(len(b.Text)) / float64(b.HTMLLen)
}

func meanDensity(blocks []Block) float64 {
	var sum float64
	var n int
	for _, b := range blocks {
		if b.HTMLLen == 0 {
			continue
		}
		sum += density(b)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// bm25Blocks scores every block against the query with Okapi BM25 over the
// page's own blocks as the corpus, keeping blocks at or above the
// threshold.
func bm25Blocks(blocks []Block, query string, threshold float64) []Block {
	terms := tokenize(query)
	if len(terms) == 0 {
		return blocks
	}

	docs := make([]map[string]int, len(blocks))
	lengths := make([]int, len(blocks))
	var totalLen int
	for i, b := range blocks {
		tf := termFrequencies(tokenize(b.Text))
		docs[i] = tf
		for _, n := range tf {
			lengths[i] += n
		}
		totalLen += lengths[i]
	}
	if totalLen == 0 {
		return nil
	}
	avgLen := float64(totalLen) / float64(len(blocks))

	df := make(map[string]int, len(terms))
	for _, term := range terms {
		for _, doc := range docs {
			if doc[term] > 0 {
				df[term]++
			}
		}
	}

	kept := make([]Block, 0, len(blocks))
	for i, b := range blocks {
		score := bm25Score(docs[i], lengths[i], avgLen, len(blocks), terms, df)
		if score >= threshold {
			kept = append(kept, b)
		}
	}
	return kept
}

func bm25Score(doc map[string]int, docLen int, avgLen float64, corpusSize int, terms []string, df map[string]int) float64 {
	var score float64
	for _, term := range terms {
		tf := float64(doc[term])
		if tf == 0 {
			continue
		}
		idf := math.Log(1 + (float64(corpusSize)-float64(df[term])+0.5)/(float64(df[term])+0.5))
		norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(docLen)/avgLen))
		score += idf * norm
	}
	return score
}

func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	return tf
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
