package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicflow/internal/core"
	"topicflow/internal/textnorm"
)

type memLookup struct {
	docs []core.StoredDocument
	err  error
}

func (m *memLookup) FindByExternalIDs(_ context.Context, ids []string) (map[string]core.StoredDocument, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]core.StoredDocument{}
	for _, id := range ids {
		for _, d := range m.docs {
			if d.ExternalID == id {
				out[id] = d
			}
		}
	}
	return out, nil
}

func (m *memLookup) FindByFingerprints(_ context.Context, fps []string) (map[string]core.StoredDocument, error) {
	out := map[string]core.StoredDocument{}
	for _, fp := range fps {
		for _, d := range m.docs {
			if d.Fingerprint == fp {
				out[fp] = d
			}
		}
	}
	return out, nil
}

func doc(id, title, abstract string) core.Document {
	return core.Document{ExternalID: id, Title: title, Abstract: abstract}
}

func TestPartitionAllNew(t *testing.T) {
	p := New(&memLookup{}, Options{})
	part, err := p.Partition(context.Background(), []core.Document{
		doc("a", "GNN", "graphs"),
		doc("b", "Proteins", "folding"),
	})
	require.NoError(t, err)
	require.Len(t, part.Process, 2)
	assert.Equal(t, StatusNew, part.Process[0].Status)
	assert.Equal(t, "a", part.Process[0].Document.ExternalID)
	assert.NotEmpty(t, part.Process[0].Document.Fingerprint)
	assert.Empty(t, part.Unchanged)
	assert.Empty(t, part.Failed)
}

func TestPartitionUnchangedAndChanged(t *testing.T) {
	lookup := &memLookup{docs: []core.StoredDocument{
		{ID: 1, ExternalID: "a", Fingerprint: textnorm.Fingerprint("GNN", "graphs"), TopicID: 0},
		{ID: 2, ExternalID: "b", Fingerprint: textnorm.Fingerprint("Proteins", "folding"), TopicID: 3},
	}}
	p := New(lookup, Options{})
	part, err := p.Partition(context.Background(), []core.Document{
		doc("a", "GNN", "graphs"),                // unchanged
		doc("b", "Proteins", "folding revised"),  // changed
		doc("c", "  gnn ", "<p>Graphs</p>"),      // same content as a under another id
		doc("d", "Transformers", "attention"),    // new
	})
	require.NoError(t, err)

	require.Len(t, part.Process, 2)
	assert.Equal(t, "b", part.Process[0].Document.ExternalID)
	assert.Equal(t, StatusChanged, part.Process[0].Status)
	assert.Equal(t, 3, part.Process[0].PriorTopicID)
	assert.Equal(t, int64(2), part.Process[0].Document.ID)

	assert.Equal(t, "d", part.Process[1].Document.ExternalID)
	assert.Equal(t, StatusNew, part.Process[1].Status)
	assert.Equal(t, core.OutlierTopicID, part.Process[1].PriorTopicID)

	require.Len(t, part.Unchanged, 2)
	assert.Equal(t, "a", part.Unchanged[0].ExternalID)
	assert.Equal(t, "c", part.Unchanged[1].ExternalID)

	added, updated := Counts(part.Process)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, updated)
}

func TestPartitionInBatchDuplicates(t *testing.T) {
	p := New(&memLookup{}, Options{})
	part, err := p.Partition(context.Background(), []core.Document{
		doc("a", "GNN", "graphs"),
		doc("a", "GNN", "other text"),
		doc("b", "GNN", "graphs"),
	})
	require.NoError(t, err)
	require.Len(t, part.Process, 1)
	assert.Len(t, part.Unchanged, 2)
}

func TestPartitionMissingExternalID(t *testing.T) {
	p := New(&memLookup{}, Options{})
	part, err := p.Partition(context.Background(), []core.Document{doc("  ", "GNN", "graphs")})
	require.NoError(t, err)
	require.Len(t, part.Failed, 1)
	assert.Equal(t, core.ReasonMissingExternalID, part.Failed[0].Reason)
}

func TestPartitionBlankDocumentsFail(t *testing.T) {
	p := New(&memLookup{}, Options{})
	part, err := p.Partition(context.Background(), []core.Document{
		doc("a", "", ""),
		doc("b", " ", "<p> </p>"),
		doc("c", "GNN", "graphs"),
	})
	require.NoError(t, err)
	require.Len(t, part.Process, 1)
	assert.Empty(t, part.Unchanged)
	require.Len(t, part.Failed, 2)
	for i, id := range []string{"a", "b"} {
		assert.Equal(t, id, part.Failed[i].ExternalID)
		assert.Equal(t, core.ReasonEmptyContent, part.Failed[i].Reason)
	}
}

func TestPartitionReprocess(t *testing.T) {
	lookup := &memLookup{docs: []core.StoredDocument{
		{ID: 7, ExternalID: "a", Fingerprint: textnorm.Fingerprint("GNN", "graphs"), TopicID: 4},
		{ID: 8, ExternalID: "z", Fingerprint: textnorm.Fingerprint("Other", "doc")},
	}}
	p := New(lookup, Options{Reprocess: true})
	part, err := p.Partition(context.Background(), []core.Document{
		doc("a", "GNN", "graphs"),
		doc("b", "Other", "doc"),
	})
	require.NoError(t, err)
	require.Len(t, part.Process, 1)
	assert.Equal(t, StatusChanged, part.Process[0].Status)
	assert.Equal(t, core.OutlierTopicID, part.Process[0].PriorTopicID)
	assert.Equal(t, int64(7), part.Process[0].Document.ID)
	require.Len(t, part.Unchanged, 1)
	assert.Equal(t, "b", part.Unchanged[0].ExternalID)
}

func TestPartitionLookupError(t *testing.T) {
	p := New(&memLookup{err: errors.New("db down")}, Options{})
	_, err := p.Partition(context.Background(), []core.Document{doc("a", "t", "a")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
