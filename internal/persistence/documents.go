package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"topicflow/internal/core"
)

// lookupChunk bounds IN lists; SQLite caps bound parameters per statement
const lookupChunk = 500

// DefaultSearchLimit caps a document search without an explicit limit
const DefaultSearchLimit = 100

var documentColumns = []string{
	"d.id", "d.external_id", "d.fingerprint", "d.doi", "d.title", "d.abstract", "d.authors",
	"d.venue", "d.url", "d.year", "d.month", "d.language",
}

// documentRepo implements DocumentRepository
type documentRepo struct{ conn }

func (r *documentRepo) FindByExternalIDs(ctx context.Context, externalIDs []string) (map[string]core.StoredDocument, error) {
	out := make(map[string]core.StoredDocument, len(externalIDs))
	for _, ids := range chunk(externalIDs, lookupChunk) {
		docs, err := r.find(ctx, sq.Eq{"d.external_id": ids})
		if err != nil {
			return nil, fmt.Errorf("failed to look up documents by external id: %w", err)
		}
		for _, d := range docs {
			out[d.ExternalID] = d
		}
	}
	return out, nil
}

func (r *documentRepo) FindByFingerprints(ctx context.Context, fingerprints []string) (map[string]core.StoredDocument, error) {
	out := make(map[string]core.StoredDocument, len(fingerprints))
	for _, fps := range chunk(fingerprints, lookupChunk) {
		docs, err := r.find(ctx, sq.Eq{"d.fingerprint": fps})
		if err != nil {
			return nil, fmt.Errorf("failed to look up documents by fingerprint: %w", err)
		}
		for _, d := range docs {
			out[d.Fingerprint] = d
		}
	}
	return out, nil
}

func (r *documentRepo) find(ctx context.Context, where sq.Sqlizer) ([]core.StoredDocument, error) {
	rows, err := r.rows(ctx, r.sb.
		Select("d.id", "d.external_id", "d.fingerprint", "a.topic_id").
		From("documents d").
		LeftJoin("topic_assignments a ON a.document_id = d.id").
		Where(where))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []core.StoredDocument
	for rows.Next() {
		var d core.StoredDocument
		var topicID sql.NullInt64
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Fingerprint, &topicID); err != nil {
			return nil, classify(err)
		}
		d.TopicID = core.OutlierTopicID
		if topicID.Valid {
			d.TopicID = int(topicID.Int64)
		}
		docs = append(docs, d)
	}
	return docs, classify(rows.Err())
}

func (r *documentRepo) Upsert(ctx context.Context, doc *core.Document) error {
	now := time.Now().UTC()
	row, err := r.row(ctx, r.sb.
		Insert("documents").
		Columns("external_id", "fingerprint", "doi", "title", "abstract", "authors", "venue", "url",
			"year", "month", "language", "created_at", "updated_at").
		Values(doc.ExternalID, doc.Fingerprint, doc.DOI, doc.Title, doc.Abstract, doc.Authors, doc.Venue, doc.URL,
			doc.Year, doc.Month, doc.Language, now, now).
		Suffix(`ON CONFLICT (external_id) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			doi = EXCLUDED.doi,
			title = EXCLUDED.title,
			abstract = EXCLUDED.abstract,
			authors = EXCLUDED.authors,
			venue = EXCLUDED.venue,
			url = EXCLUDED.url,
			year = EXCLUDED.year,
			month = EXCLUDED.month,
			language = EXCLUDED.language,
			updated_at = EXCLUDED.updated_at
		RETURNING id`))
	if err != nil {
		return err
	}
	if err := row.Scan(&doc.ID); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ExternalID, classify(err))
	}
	return nil
}

func (r *documentRepo) Get(ctx context.Context, id int64) (*core.Document, error) {
	docs, err := r.list(ctx, r.sb.Select(documentColumns...).From("documents d").Where(sq.Eq{"d.id": id}))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("document %d: %w", id, core.ErrNotFound)
	}
	return &docs[0], nil
}

func (r *documentRepo) Search(ctx context.Context, filter DocumentFilter) ([]core.Document, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	q := r.sb.Select(documentColumns...).From("documents d")
	if len(filter.TopicIDs) > 0 {
		q = q.Join("topic_assignments a ON a.document_id = d.id").
			Where(sq.Eq{"a.topic_id": filter.TopicIDs})
	}
	if filter.YearFrom > 0 {
		q = q.Where(sq.GtOrEq{"d.year": filter.YearFrom})
	}
	if filter.YearTo > 0 {
		q = q.Where(sq.LtOrEq{"d.year": filter.YearTo})
	}
	return r.list(ctx, q.OrderBy("d.year DESC", "d.id DESC").Limit(uint64(limit)))
}

func (r *documentRepo) list(ctx context.Context, q sq.SelectBuilder) ([]core.Document, error) {
	rows, err := r.rows(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []core.Document
	for rows.Next() {
		var d core.Document
		if err := rows.Scan(&d.ID, &d.ExternalID, &d.Fingerprint, &d.DOI, &d.Title, &d.Abstract, &d.Authors,
			&d.Venue, &d.URL, &d.Year, &d.Month, &d.Language); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", classify(err))
		}
		docs = append(docs, d)
	}
	return docs, classify(rows.Err())
}

func (r *documentRepo) Count(ctx context.Context) (int, error) {
	row, err := r.row(ctx, r.sb.Select("COUNT(*)").From("documents"))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", classify(err))
	}
	return n, nil
}
