package batch

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"topicflow/internal/core"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.parquet")
	docs := []core.Document{
		{ExternalID: "w1", DOI: "10.1/abc", Title: "Graph neural networks", Abstract: "Message passing on graphs.",
			Authors: "A. Smith, B. Jones", Venue: "NeurIPS", Year: 2021, Month: 6, Language: "en", URL: "https://example.org/w1"},
		{ExternalID: "w2", Title: "Protein folding", Abstract: "Structure prediction.", Year: 2022},
	}
	require.NoError(t, Write(path, docs))

	got, err := Read(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, docs, got)
}

func TestReadManyRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.parquet")
	docs := make([]core.Document, readChunk+7)
	for i := range docs {
		docs[i] = core.Document{ExternalID: "w" + strconv.Itoa(i), Title: "t", Abstract: "a"}
	}
	require.NoError(t, Write(path, docs))

	got, err := Read(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, got, len(docs))
	assert.Equal(t, docs[len(docs)-1].ExternalID, got[len(got)-1].ExternalID)
}

func TestRowTrimsAndDefaults(t *testing.T) {
	id := "  w9 "
	doc := Row{CoreID: &id}.Document()
	assert.Equal(t, "w9", doc.ExternalID)
	assert.Zero(t, doc.Year)
	assert.Zero(t, doc.Month)
	assert.Empty(t, doc.Abstract)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestReadCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.parquet")
	require.NoError(t, Write(path, []core.Document{{ExternalID: "w1"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Read(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}
