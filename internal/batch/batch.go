// Package batch reads and writes document batches stored as Parquet files.
package batch

import (
	"context"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"topicflow/internal/core"
)

// readChunk is the number of rows decoded per read call
const readChunk = 1000

// parallelism is the number of goroutines parquet-go uses per file
const parallelism = 4

// Row is one document in the normalized ingest schema.
// Every column is optional; missing values read as zero.
type Row struct {
	CoreID   *string `parquet:"name=core_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DOI      *string `parquet:"name=doi, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Title    *string `parquet:"name=title, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Abstract *string `parquet:"name=abstract, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Authors  *string `parquet:"name=authors, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Venue    *string `parquet:"name=venue, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Year     *int32  `parquet:"name=year, type=INT32, repetitiontype=OPTIONAL"`
	Month    *int32  `parquet:"name=month, type=INT32, repetitiontype=OPTIONAL"`
	Lang     *string `parquet:"name=lang, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	URL      *string `parquet:"name=url, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// Document converts the row, trimming surrounding whitespace
func (r Row) Document() core.Document {
	return core.Document{
		ExternalID: str(r.CoreID),
		DOI:        str(r.DOI),
		Title:      str(r.Title),
		Abstract:   str(r.Abstract),
		Authors:    str(r.Authors),
		Venue:      str(r.Venue),
		Year:       num(r.Year),
		Month:      num(r.Month),
		Language:   str(r.Lang),
		URL:        str(r.URL),
	}
}

// FromDocument builds the row of a document
func FromDocument(d core.Document) Row {
	year, month := int32(d.Year), int32(d.Month)
	return Row{
		CoreID:   &d.ExternalID,
		DOI:      &d.DOI,
		Title:    &d.Title,
		Abstract: &d.Abstract,
		Authors:  &d.Authors,
		Venue:    &d.Venue,
		Year:     &year,
		Month:    &month,
		Lang:     &d.Language,
		URL:      &d.URL,
	}
}

// Read loads every document of a Parquet batch file in file order
func Read(ctx context.Context, path string) ([]core.Document, error) {
	f, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch %s: %w", path, err)
	}
	defer f.Close()

	pr, err := reader.NewParquetReader(f, new(Row), parallelism)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch schema %s: %w", path, err)
	}
	defer pr.ReadStop()

	total := int(pr.GetNumRows())
	docs := make([]core.Document, 0, total)
	for len(docs) < total {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(readChunk, total-len(docs))
		rows := make([]Row, n)
		if err := pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("failed to read batch rows %s: %w", path, err)
		}
		for _, row := range rows {
			docs = append(docs, row.Document())
		}
	}
	return docs, nil
}

// Write stores docs as a Snappy compressed Parquet file
func Write(path string, docs []core.Document) error {
	f, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("failed to create batch %s: %w", path, err)
	}

	pw, err := writer.NewParquetWriter(f, new(Row), parallelism)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to create batch writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, d := range docs {
		if err := pw.Write(FromDocument(d)); err != nil {
			f.Close()
			return fmt.Errorf("failed to write document %s: %w", d.ExternalID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		f.Close()
		return fmt.Errorf("failed to finish batch %s: %w", path, err)
	}
	return f.Close()
}

func str(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func num(n *int32) int {
	if n == nil {
		return 0
	}
	return int(*n)
}
