package topicmodel

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"topicflow/internal/clustering"
	"topicflow/internal/core"
)

// Params control how batch clusters are matched and merged.
type Params struct {
	SimilarityThreshold float64
	TieEpsilon          float64
	Decay               float64
	TopN                int
}

// DefaultParams returns the defaults used for production runs
func DefaultParams() Params {
	return Params{
		SimilarityThreshold: 0.80,
		TieEpsilon:          1e-6,
		Decay:               0.01,
		TopN:                10,
	}
}

// Outcome describes what reconciliation did with each batch cluster.
type Outcome struct {
	TopicByLabel map[int]int  // Batch cluster label -> topic id
	Created      map[int]bool // Topic ids created by this reconciliation
	Touched      []int        // Topic ids whose rows changed, ascending
}

// TopicFor returns the topic a batch cluster label was reconciled into.
func (o Outcome) TopicFor(label int) (int, bool) {
	id, ok := o.TopicByLabel[label]
	return id, ok
}

// Reconcile merges batch clusters into snap and returns the new snapshot.
// snap is not modified.
//
// releases lists, once per document, the topic a changed document was
// previously assigned to; each entry decrements that topic's size.
// Clusters are matched in label order against the topics that existed before
// this call. A match at or above the similarity threshold extends the topic;
// otherwise a new topic takes the next id.
func Reconcile(snap Snapshot, clusters []clustering.Cluster, releases []int, p Params, now time.Time) (Snapshot, Outcome) {
	out := snap.Clone()
	out.Version++
	out.UpdatedAt = now

	outcome := Outcome{
		TopicByLabel: make(map[int]int, len(clusters)),
		Created:      make(map[int]bool),
	}
	touched := make(map[int]struct{})

	index := make(map[int]int, len(out.Topics))
	for i, t := range out.Topics {
		index[t.ID] = i
	}

	for _, id := range releases {
		i, ok := index[id]
		if !ok {
			continue
		}
		if out.Topics[i].Size > 0 {
			out.Topics[i].Size--
		}
		out.Topics[i].UpdatedAt = now
		touched[id] = struct{}{}
	}

	ordered := append([]clustering.Cluster(nil), clusters...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Label < ordered[j].Label })

	for _, c := range ordered {
		if c.Size() == 0 {
			continue
		}

		if best, ok := bestMatch(snap.Topics, out.Topics, index, c.Centroid, p); ok {
			i := index[best]
			out.Topics[i] = extend(out.Topics[i], c, p, now)
			outcome.TopicByLabel[c.Label] = best
			touched[best] = struct{}{}
			continue
		}

		id := out.NextTopicID
		out.NextTopicID++
		terms := clustering.RankTerms(append([]core.TermWeight(nil), c.Terms...), p.TopN)
		out.Topics = append(out.Topics, core.Topic{
			ID:        id,
			Label:     Label(id, terms),
			Terms:     terms,
			Size:      c.Size(),
			Centroid:  append([]float64(nil), c.Centroid...),
			CreatedAt: now,
			UpdatedAt: now,
		})
		index[id] = len(out.Topics) - 1
		outcome.TopicByLabel[c.Label] = id
		outcome.Created[id] = true
		touched[id] = struct{}{}
	}

	sort.Slice(out.Topics, func(i, j int) bool { return out.Topics[i].ID < out.Topics[j].ID })

	outcome.Touched = make([]int, 0, len(touched))
	for id := range touched {
		outcome.Touched = append(outcome.Touched, id)
	}
	sort.Ints(outcome.Touched)

	return out, outcome
}

// bestMatch finds the prior topic most similar to centroid. Similarities
// within TieEpsilon of the best prefer the larger current size, then the
// smaller id.
func bestMatch(prior, current []core.Topic, index map[int]int, centroid []float64, p Params) (int, bool) {
	type candidate struct {
		id   int
		sim  float64
		size int
	}

	cands := make([]candidate, 0, len(prior))
	best := math.Inf(-1)
	for _, t := range prior {
		sim := clustering.CosineSimilarity(centroid, t.Centroid)
		size := 0
		if i, ok := index[t.ID]; ok {
			size = current[i].Size
		}
		cands = append(cands, candidate{id: t.ID, sim: sim, size: size})
		if sim > best {
			best = sim
		}
	}
	if len(cands) == 0 || best < p.SimilarityThreshold {
		return 0, false
	}

	chosen := -1
	var chosenSize int
	for _, c := range cands {
		if best-c.sim > p.TieEpsilon {
			continue
		}
		if chosen == -1 || c.size > chosenSize || (c.size == chosenSize && c.id < chosen) {
			chosen, chosenSize = c.id, c.size
		}
	}
	return chosen, true
}

// extend merges cluster c into topic t.
func extend(t core.Topic, c clustering.Cluster, p Params, now time.Time) core.Topic {
	oldSize := t.Size
	newSize := oldSize + c.Size()

	t.Centroid = weightedMean(t.Centroid, oldSize, c.Centroid, c.Size())
	t.Terms = BlendTerms(t.Terms, c.Terms, p.Decay, p.TopN)
	t.Size = newSize
	t.Label = Label(t.ID, t.Terms)
	t.UpdatedAt = now
	return t
}

// BlendTerms re-ranks terms by (1 - decay) * old + new. Missing weights count as 0.
func BlendTerms(old, fresh []core.TermWeight, decay float64, topN int) []core.TermWeight {
	weights := make(map[string]float64, len(old)+len(fresh))
	for _, tw := range old {
		weights[tw.Term] += (1 - decay) * tw.Weight
	}
	for _, tw := range fresh {
		weights[tw.Term] += tw.Weight
	}

	blended := make([]core.TermWeight, 0, len(weights))
	for term, w := range weights {
		blended = append(blended, core.TermWeight{Term: term, Weight: w})
	}
	return clustering.RankTerms(blended, topN)
}

func weightedMean(a []float64, wa int, b []float64, wb int) []float64 {
	if wa <= 0 || len(a) != len(b) {
		return append([]float64(nil), b...)
	}
	total := float64(wa + wb)
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (a[i]*float64(wa) + b[i]*float64(wb)) / total
	}
	return out
}

// Label builds a topic label from its id and top four terms.
func Label(id int, terms []core.TermWeight) string {
	n := len(terms)
	if n > 4 {
		n = 4
	}
	if n == 0 {
		return fmt.Sprintf("%d_untitled", id)
	}
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = terms[i].Term
	}
	return fmt.Sprintf("%d_%s", id, strings.Join(parts, "_"))
}
