package clustering

import (
	"math"
	"sort"

	"topicflow/internal/core"
	"topicflow/internal/textnorm"
)

// TermOptions bound the vocabulary used for representative terms.
type TermOptions struct {
	MinDF int     // Minimum number of batch documents containing the term
	MaxDF float64 // Maximum document fraction; values above 1 are absolute counts
	TopN  int
}

// classTerms scores terms per class with class-based TF-IDF:
//
//	score(t, c) = tf(t, c) * log(1 + A / f(t))
//
// where tf is L1-normalized within the class, A is the average token count
// per class and f(t) is the frequency of t across all classes. classes[i] lists
// the document indices of class i; the last class may be the noise class.
func classTerms(texts []string, classes [][]int, opts TermOptions) [][]core.TermWeight {
	docs := make([][]string, len(texts))
	for i, text := range texts {
		docs[i] = textnorm.Tokenize(text)
	}

	vocab := buildVocabulary(docs, opts)
	if len(vocab) == 0 {
		return make([][]core.TermWeight, len(classes))
	}

	counts := make([]map[string]float64, len(classes))
	freq := make(map[string]float64)
	var totalTokens float64
	for c, members := range classes {
		counts[c] = make(map[string]float64)
		for _, idx := range members {
			for _, tok := range docs[idx] {
				if _, ok := vocab[tok]; !ok {
					continue
				}
				counts[c][tok]++
				freq[tok]++
				totalTokens++
			}
		}
	}

	avg := totalTokens / float64(len(classes))

	out := make([][]core.TermWeight, len(classes))
	for c := range classes {
		var classTotal float64
		for _, n := range counts[c] {
			classTotal += n
		}
		if classTotal == 0 {
			continue
		}

		scored := make([]core.TermWeight, 0, len(counts[c]))
		for term, n := range counts[c] {
			tf := n / classTotal
			idf := math.Log(1 + avg/freq[term])
			scored = append(scored, core.TermWeight{Term: term, Weight: tf * idf})
		}
		out[c] = RankTerms(scored, opts.TopN)
	}
	return out
}

// buildVocabulary keeps terms whose document frequency is within bounds.
// When the bounds leave nothing, the minimum is relaxed to 1 and then the
// maximum is dropped, so small batches still get terms.
func buildVocabulary(docs [][]string, opts TermOptions) map[string]struct{} {
	df := make(map[string]int)
	for _, tokens := range docs {
		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}

	maxDF := opts.MaxDF
	if maxDF <= 1 {
		maxDF = math.Floor(opts.MaxDF * float64(len(docs)))
	}
	minDF := opts.MinDF
	if minDF < 1 {
		minDF = 1
	}

	filter := func(min int, max float64) map[string]struct{} {
		vocab := make(map[string]struct{})
		for term, n := range df {
			if n >= min && float64(n) <= max {
				vocab[term] = struct{}{}
			}
		}
		return vocab
	}

	vocab := filter(minDF, maxDF)
	if len(vocab) == 0 {
		vocab = filter(1, maxDF)
	}
	if len(vocab) == 0 {
		vocab = filter(1, math.Inf(1))
	}
	return vocab
}

// RankTerms sorts by weight descending, then term ascending, and keeps topN.
func RankTerms(terms []core.TermWeight, topN int) []core.TermWeight {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Weight != terms[j].Weight {
			return terms[i].Weight > terms[j].Weight
		}
		return terms[i].Term < terms[j].Term
	})
	if topN > 0 && len(terms) > topN {
		terms = terms[:topN]
	}
	return terms
}
