package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"topicflow/internal/assign"
	"topicflow/internal/batch"
	"topicflow/internal/clustering"
	"topicflow/internal/core"
	"topicflow/internal/dedup"
	"topicflow/internal/embedding"
	"topicflow/internal/logger"
	"topicflow/internal/persistence"
	"topicflow/internal/textnorm"
	"topicflow/internal/topicmodel"
)

// Pipeline runs batches through the incremental topic model:
// dedup, embed, cluster, reconcile, assign, trends, one transactional write.
type Pipeline struct {
	db        persistence.Database
	embedder  Embedder
	clusterer Clusterer
	tracker   *Tracker
	writer    *writer

	config *Config
	now    func() time.Time
}

// Config holds pipeline configuration
type Config struct {
	Embedding embedding.Options
	Cluster   clustering.Options
	Reconcile topicmodel.Params

	// Persistence settings
	StoreTimeout time.Duration // Bound on the write transaction
	LockTTL      time.Duration // Running runs older than this no longer block
	SnapshotPath string        // On-disk snapshot mirror, empty to disable
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Embedding:    embedding.DefaultOptions(),
		Cluster:      clustering.DefaultOptions(),
		Reconcile:    topicmodel.DefaultParams(),
		StoreTimeout: 60 * time.Second,
		LockTTL:      6 * time.Hour,
	}
}

// NewPipeline creates a new pipeline with all dependencies
func NewPipeline(db persistence.Database, embedder Embedder, clusterer Clusterer, config *Config, now func() time.Time) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		db:        db,
		embedder:  embedder,
		clusterer: clusterer,
		tracker:   NewTracker(db, config.LockTTL, now),
		writer: &writer{
			db:           db,
			timeout:      config.StoreTimeout,
			snapshotPath: config.SnapshotPath,
			now:          now,
		},
		config: config,
		now:    now,
	}
}

// RunOptions configures one run
type RunOptions struct {
	Mode      core.RunMode
	BatchPath string          // Parquet batch, read when Documents is nil
	Documents []core.Document // Batch supplied directly
	Force     bool            // init only: rebuild over existing state
}

// Report is the outcome of a run
type Report struct {
	Run      core.Run
	Created  []int        // Topic ids created by the run
	Touched  []int        // Topic ids created, extended or released
	Topics   []core.Topic // Current rows of the touched topics
	Failures []core.DocumentFailure
	Duration time.Duration
}

// Run processes one batch. Per-document failures are reported and do not
// fail the run; any other error rolls back every write and finalizes the run
// as error. The returned report carries the run row in both cases, except
// when the run could not be started.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	if opts.Mode != core.ModeInit && opts.Mode != core.ModeUpdate {
		return nil, fmt.Errorf("unknown run mode %q", opts.Mode)
	}
	if opts.Force && opts.Mode != core.ModeInit {
		return nil, fmt.Errorf("force is only valid for %s runs", core.ModeInit)
	}

	startTime := p.now()
	run := &core.Run{
		Mode:           opts.Mode,
		BatchPath:      opts.BatchPath,
		EmbeddingModel: p.embedder.Model(),
		Seed:           p.config.Cluster.Seed,
	}
	if err := p.tracker.Start(ctx, run); err != nil {
		return nil, err
	}

	report := &Report{}
	cs, err := p.process(ctx, run, opts, report)
	if err == nil {
		err = p.writer.commit(ctx, cs)
	}
	if err != nil {
		// Nothing was committed: only skipped documents keep their count
		run.Counts.Failed = run.BatchSize - run.Counts.Skipped
		run.Counts.Added, run.Counts.Updated = 0, 0
		if ferr := p.tracker.Fail(ctx, run, err); ferr != nil {
			err = errors.Join(err, ferr)
		}
		report.Run = *run
		report.Duration = p.now().Sub(startTime)
		return report, err
	}

	report.Run = *run
	report.Failures = cs.failures
	report.Touched = cs.touched
	for _, id := range cs.touched {
		if t, ok := cs.snapshot.Topic(id); ok {
			report.Topics = append(report.Topics, t)
		}
	}
	report.Duration = p.now().Sub(startTime)
	return report, nil
}

// process computes the changeset of a run without writing anything
func (p *Pipeline) process(ctx context.Context, run *core.Run, opts RunOptions, report *Report) (*changeset, error) {
	docs := opts.Documents
	if docs == nil {
		var err error
		docs, err = batch.Read(ctx, opts.BatchPath)
		if err != nil {
			return nil, err
		}
	}
	run.BatchSize = len(docs)

	// Step 1: topic model state
	base, prevVersion, reset, err := p.loadState(ctx, opts)
	if err != nil {
		return nil, err
	}

	// Step 2: dedup
	part, err := dedup.New(p.db.Documents(), dedup.Options{Reprocess: reset}).Partition(ctx, docs)
	if err != nil {
		return nil, err
	}
	run.Counts.Skipped = len(part.Unchanged)
	failures := append([]core.DocumentFailure(nil), part.Failed...)
	logger.Info("Partitioned batch",
		"run_id", run.ID,
		"documents", len(docs),
		"to_process", len(part.Process),
		"unchanged", len(part.Unchanged),
		"invalid", len(part.Failed))

	// Step 3: embeddings
	texts := make([]string, len(part.Process))
	for i, item := range part.Process {
		texts[i] = textnorm.Text(item.Document.Title, item.Document.Abstract)
	}
	embedded, err := p.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	items := make([]dedup.Item, 0, len(part.Process))
	vectors := make([][]float64, 0, len(part.Process))
	clusterTexts := make([]string, 0, len(part.Process))
	for i, item := range part.Process {
		if reason, failed := embedded.Failures[i]; failed {
			failures = append(failures, core.DocumentFailure{ExternalID: item.Document.ExternalID, Reason: reason})
			continue
		}
		items = append(items, item)
		vectors = append(vectors, embedded.Vectors[i])
		clusterTexts = append(clusterTexts, texts[i])
	}

	// Step 4: clustering
	res, err := p.clusterer.Cluster(ctx, vectors, clusterTexts)
	if err != nil {
		if !errors.Is(err, core.ErrTransient) {
			return nil, err
		}
		logger.Warn("Clustering failed after retries, batch documents fail", "run_id", run.ID, "documents", len(items), "error", err.Error())
		for _, item := range items {
			failures = append(failures, core.DocumentFailure{ExternalID: item.Document.ExternalID, Reason: core.ReasonClusteringFailed})
		}
		items, res = nil, clustering.Result{}
	}

	run.Counts.Added, run.Counts.Updated = dedup.Counts(items)
	run.Counts.Failed = len(failures)

	cs := &changeset{
		run:         run,
		reset:       reset,
		items:       items,
		snapshot:    base,
		prevVersion: prevVersion,
		failures:    failures,
	}

	// An update with nothing to process leaves the state untouched
	if len(items) == 0 && opts.Mode == core.ModeUpdate {
		run.StateVersion = base.Version
		return cs, nil
	}

	// Step 5: reconcile against the prior snapshot
	var releases []int
	for _, item := range items {
		if item.Status == dedup.StatusChanged && item.PriorTopicID != core.OutlierTopicID {
			releases = append(releases, item.PriorTopicID)
		}
	}
	next, outcome := topicmodel.Reconcile(base, res.Clusters, releases, p.config.Reconcile, p.now().UTC())

	// Step 6: assignments
	cs.assignments = assign.Assign(res, outcome)
	cs.snapshot = next
	cs.saveState = true
	cs.touched = outcome.Touched
	run.StateVersion = next.Version

	for id := range outcome.Created {
		report.Created = append(report.Created, id)
	}
	sort.Ints(report.Created)

	logger.Info("Reconciled topics",
		"run_id", run.ID,
		"clusters", len(res.Clusters),
		"created", len(outcome.Created),
		"touched", len(outcome.Touched),
		"outliers", res.Noise(),
		"state_version", next.Version)
	return cs, nil
}

// loadState returns the snapshot a run starts from, the stored version it
// must still find when saving, and whether stored topics are dropped.
func (p *Pipeline) loadState(ctx context.Context, opts RunOptions) (topicmodel.Snapshot, int64, bool, error) {
	model, dims := p.embedder.Model(), p.embedder.Dimensions()

	snap, err := p.db.States().Load(ctx)
	switch {
	case errors.Is(err, core.ErrNoState):
		if opts.Mode == core.ModeUpdate {
			return topicmodel.Snapshot{}, 0, false, fmt.Errorf("%w: run init first", core.ErrNoState)
		}
		return topicmodel.New(model, dims), -1, false, nil
	case err != nil:
		return topicmodel.Snapshot{}, 0, false, err
	}

	if opts.Mode == core.ModeInit {
		if !opts.Force {
			return topicmodel.Snapshot{}, 0, false, fmt.Errorf("%w: version %d, use --force to rebuild", core.ErrStateExists, snap.Version)
		}
		logger.Warn("Rebuilding topic model over existing state", "version", snap.Version, "topics", len(snap.Topics))
		return snap.Reset(model, dims, p.now().UTC()), snap.Version, true, nil
	}

	if err := snap.CheckModel(model); err != nil {
		return topicmodel.Snapshot{}, 0, false, err
	}
	if snap.Dimensions != dims {
		return topicmodel.Snapshot{}, 0, false, fmt.Errorf("%w: state has %d dimensions, embedder produces %d", core.ErrModelMismatch, snap.Dimensions, dims)
	}
	return snap, snap.Version, false, nil
}
