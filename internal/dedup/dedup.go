// Package dedup partitions an incoming batch into new, changed and unchanged
// documents by content fingerprint and external id.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"topicflow/internal/core"
	"topicflow/internal/textnorm"
)

// Lookup reads previously stored documents. Implementations must not write.
type Lookup interface {
	FindByExternalIDs(ctx context.Context, externalIDs []string) (map[string]core.StoredDocument, error)
	FindByFingerprints(ctx context.Context, fingerprints []string) (map[string]core.StoredDocument, error)
}

// Status classifies one batch document.
type Status int

const (
	StatusNew Status = iota
	StatusChanged
	StatusUnchanged
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusChanged:
		return "changed"
	default:
		return "unchanged"
	}
}

// Item is a document that needs processing.
type Item struct {
	Document core.Document
	Status   Status
	// PriorTopicID is the topic a changed document was assigned to before,
	// core.OutlierTopicID when it had none.
	PriorTopicID int
}

// Partition is the dedup outcome of a batch, in input order within each group.
type Partition struct {
	Process   []Item
	Unchanged []core.Document
	Failed    []core.DocumentFailure
}

// Options tune the partitioning.
type Options struct {
	// Reprocess treats stored documents with an unchanged fingerprint as
	// changed. Used when the topic model is rebuilt from scratch.
	Reprocess bool
}

// Partitioner fingerprints documents and classifies them against the store.
type Partitioner struct {
	lookup Lookup
	opts   Options
}

// New creates a Partitioner
func New(lookup Lookup, opts Options) *Partitioner {
	return &Partitioner{lookup: lookup, opts: opts}
}

// Partition classifies docs. Fingerprints are filled in on the returned documents.
func (p *Partitioner) Partition(ctx context.Context, docs []core.Document) (Partition, error) {
	var out Partition

	candidates := make([]core.Document, 0, len(docs))
	for _, doc := range docs {
		doc.ExternalID = strings.TrimSpace(doc.ExternalID)
		if doc.ExternalID == "" {
			out.Failed = append(out.Failed, core.DocumentFailure{Reason: core.ReasonMissingExternalID})
			continue
		}
		// Every blank document shares one fingerprint, so it must fail here
		// rather than look like a duplicate.
		if textnorm.Text(doc.Title, doc.Abstract) == "" {
			out.Failed = append(out.Failed, core.DocumentFailure{ExternalID: doc.ExternalID, Reason: core.ReasonEmptyContent})
			continue
		}
		doc.Fingerprint = textnorm.Fingerprint(doc.Title, doc.Abstract)
		candidates = append(candidates, doc)
	}

	if len(candidates) == 0 {
		return out, nil
	}

	ids := make([]string, 0, len(candidates))
	fps := make([]string, 0, len(candidates))
	for _, doc := range candidates {
		ids = append(ids, doc.ExternalID)
		fps = append(fps, doc.Fingerprint)
	}

	byID, err := p.lookup.FindByExternalIDs(ctx, ids)
	if err != nil {
		return Partition{}, fmt.Errorf("lookup external ids: %w", err)
	}
	byFP, err := p.lookup.FindByFingerprints(ctx, fps)
	if err != nil {
		return Partition{}, fmt.Errorf("lookup fingerprints: %w", err)
	}

	seenIDs := make(map[string]struct{}, len(candidates))
	seenFPs := make(map[string]struct{}, len(candidates))

	for _, doc := range candidates {
		_, dupID := seenIDs[doc.ExternalID]
		_, dupFP := seenFPs[doc.Fingerprint]
		seenIDs[doc.ExternalID] = struct{}{}
		seenFPs[doc.Fingerprint] = struct{}{}

		if dupID || dupFP {
			out.Unchanged = append(out.Unchanged, doc)
			continue
		}

		stored, idKnown := byID[doc.ExternalID]
		owner, fpKnown := byFP[doc.Fingerprint]

		switch {
		case idKnown && p.opts.Reprocess && (!fpKnown || owner.ExternalID == doc.ExternalID):
			doc.ID = stored.ID
			out.Process = append(out.Process, Item{Document: doc, Status: StatusChanged, PriorTopicID: core.OutlierTopicID})
		case fpKnown:
			out.Unchanged = append(out.Unchanged, doc)
		case idKnown:
			doc.ID = stored.ID
			out.Process = append(out.Process, Item{Document: doc, Status: StatusChanged, PriorTopicID: stored.TopicID})
		default:
			out.Process = append(out.Process, Item{Document: doc, Status: StatusNew, PriorTopicID: core.OutlierTopicID})
		}
	}

	return out, nil
}

// Counts returns the added and updated totals implied by a set of processed items.
func Counts(items []Item) (added, updated int) {
	for _, it := range items {
		if it.Status == StatusChanged {
			updated++
		} else {
			added++
		}
	}
	return added, updated
}
