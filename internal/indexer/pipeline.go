package indexer

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/chatstore"
	"github.com/fyrsmithlabs/ragd/internal/domain"
	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

const (
	defaultEmbedBatch = 32
	cleanupTimeout    = 10 * time.Second
)

// Pipeline indexes one file end to end: extract sections when the
// upload arrived without them, window the sections, embed in batches,
// write to the vector store, and move the file's status. At most one
// run per file is active at a time; runs for different files may
// proceed in parallel.
type Pipeline struct {
	store     chatstore.Store
	vectors   vectorstore.Store
	embedder  embeddings.Provider
	chunker   *Chunker
	extractor SectionExtractor
	events    *Publisher
	metrics   *Metrics
	logger    *zap.Logger
	batchSize int

	locks fileLocks
}

// NewPipeline wires a pipeline. A non-positive batchSize uses the
// default; a nil extractor restricts the pipeline to files whose
// sections were delivered at upload time.
func NewPipeline(store chatstore.Store, vectors vectorstore.Store, embedder embeddings.Provider,
	chunker *Chunker, extractor SectionExtractor, events *Publisher,
	batchSize int, logger *zap.Logger) *Pipeline {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     store,
		vectors:   vectors,
		embedder:  embedder,
		chunker:   chunker,
		extractor: extractor,
		events:    events,
		metrics:   NewMetrics(logger),
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run indexes fileID. The file must be in status ready, or indexed for a
// re-index; re-indexing replaces the previous chunks. On any failure
// after the processing transition the partial chunks are removed and the
// file moves to status error with a short reason.
func (p *Pipeline) Run(ctx context.Context, fileID int64) error {
	lock := p.locks.acquire(fileID)
	defer p.locks.release(fileID, lock)

	file, err := p.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if !file.Status.Indexable() {
		return domain.Newf(domain.KindValidation,
			"file %d is %s and cannot be indexed", fileID, file.Status)
	}

	if err := p.store.UpdateFileStatus(ctx, fileID, domain.FileProcessing, "", 0); err != nil {
		return err
	}
	p.events.Started(fileID)

	started := time.Now()
	total, err := p.index(ctx, file)
	if err != nil {
		p.fail(fileID, err)
		p.metrics.RecordRun(ctx, runOutcome(err), time.Since(started), 0)
		return err
	}

	if err := p.store.UpdateFileStatus(ctx, fileID, domain.FileIndexed, "", total); err != nil {
		p.fail(fileID, err)
		p.metrics.RecordRun(ctx, runOutcome(err), time.Since(started), 0)
		return err
	}
	p.events.Indexed(fileID, total)
	p.metrics.RecordRun(ctx, outcomeIndexed, time.Since(started), total)
	p.logger.Info("file indexed",
		zap.Int64("file_id", fileID),
		zap.String("file_name", file.Filename),
		zap.Int("chunks", total),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// Delete removes a file together with its chunks, sections, and stored
// upload. It takes the same per-file lock as Run, so a delete never
// interleaves with an indexing run of the same file; a run queued behind
// the delete aborts at the not_found barrier. Deleting an absent file
// reports false without error.
func (p *Pipeline) Delete(ctx context.Context, fileID int64) (bool, error) {
	lock := p.locks.acquire(fileID)
	defer p.locks.release(fileID, lock)

	file, err := p.store.GetFile(ctx, fileID)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return false, nil
		}
		return false, err
	}

	// Chunks go first: a failure here leaves the file intact and the
	// delete retriable, while the reverse order could orphan chunks that
	// keep surfacing in search.
	if _, err := p.vectors.DeleteByFile(ctx, fileID); err != nil {
		return false, err
	}
	deleted, err := p.store.DeleteFile(ctx, fileID)
	if err != nil {
		return false, err
	}

	if file.Path != "" {
		if err := os.Remove(file.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("stored upload removal failed",
				zap.Int64("file_id", fileID),
				zap.String("path", file.Path),
				zap.Error(err))
		}
	}
	p.logger.Info("file deleted",
		zap.Int64("file_id", fileID),
		zap.String("file_name", file.Filename))
	return deleted, nil
}

// index performs the chunk-embed-write loop and returns the chunk total.
func (p *Pipeline) index(ctx context.Context, file *domain.FileDocument) (int, error) {
	sections, err := p.store.ListSections(ctx, file.ID)
	if err != nil {
		return 0, err
	}
	if len(sections) == 0 {
		// The upload carried no pre-extracted sections; produce them
		// from the stored payload.
		sections, err = p.extractSections(ctx, file)
		if err != nil {
			return 0, err
		}
	}

	// Stale chunks from a previous run go before any new write so a
	// re-index never mixes generations.
	if _, err := p.vectors.DeleteByFile(ctx, file.ID); err != nil {
		return 0, err
	}

	chunks := p.chunker.ChunkSections(file.ID, file.Filename, sections)
	if len(chunks) == 0 {
		return 0, domain.New(domain.KindValidation, "sections contain no text")
	}

	total := 0
	for start := 0; start < len(chunks); start += p.batchSize {
		if start > 0 {
			if err := p.barrier(ctx, file.ID); err != nil {
				return 0, err
			}
		}
		end := min(start+p.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, err
		}
		if len(vectors) != len(batch) {
			return 0, domain.Newf(domain.KindEmbeddingUnavailable,
				"embedding returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}

		n, err := p.vectors.UpsertChunks(ctx, file.ID, batch)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// extractSections reads the stored upload and runs the extraction
// stage, persisting the result so the sections survive this run.
func (p *Pipeline) extractSections(ctx context.Context, file *domain.FileDocument) ([]domain.FileSection, error) {
	if p.extractor == nil {
		return nil, domain.New(domain.KindValidation, "no extracted sections")
	}

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return nil, domain.Wrap(domain.KindStorage, "read stored upload", err)
	}

	sections, err := p.extractor.Extract(file.Filename, data)
	if err != nil {
		return nil, err
	}
	if err := p.store.AddSections(ctx, file.ID, sections); err != nil {
		return nil, err
	}

	p.logger.Debug("sections extracted",
		zap.Int64("file_id", file.ID),
		zap.Int("sections", len(sections)))
	return sections, nil
}

// barrier is checked between batches: a canceled context or a deleted
// file row aborts the run before more embedding spend.
func (p *Pipeline) barrier(ctx context.Context, fileID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.store.GetFile(ctx, fileID); err != nil {
		return err
	}
	return nil
}

// fail cleans up after a run that got past the processing transition.
// Cleanup must survive the caller's canceled context, so it runs on its
// own deadline.
func (p *Pipeline) fail(fileID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, err := p.vectors.DeleteByFile(ctx, fileID); err != nil {
		p.logger.Warn("partial chunk cleanup failed",
			zap.Int64("file_id", fileID), zap.Error(err))
	}

	if domain.IsKind(cause, domain.KindNotFound) {
		// The file row is gone; only the chunk cleanup matters.
		p.logger.Info("indexing aborted, file deleted mid-run", zap.Int64("file_id", fileID))
		return
	}

	reason := failReason(cause)
	if err := p.store.UpdateFileStatus(ctx, fileID, domain.FileError, reason, 0); err != nil {
		if !domain.IsKind(err, domain.KindNotFound) {
			p.logger.Warn("error status write failed",
				zap.Int64("file_id", fileID), zap.Error(err))
		}
		return
	}
	p.events.Failed(fileID, reason)
	p.logger.Warn("indexing failed",
		zap.Int64("file_id", fileID),
		zap.String("reason", reason),
		zap.Error(cause))
}

// failReason reduces an error chain to the short reason stored on the
// file row.
func failReason(err error) string {
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	msg := err.Error()
	if runes := []rune(msg); len(runes) > 200 {
		msg = string(runes[:200])
	}
	return msg
}

// runOutcome folds an error into a metric outcome. Deletion and
// cancellation are aborts, everything else is an error.
func runOutcome(err error) string {
	switch domain.KindOf(err) {
	case domain.KindNotFound, domain.KindTimeout:
		return outcomeAborted
	default:
		return outcomeError
	}
}

// fileLocks hands out one mutex per file so concurrent runs of the same
// file serialize. Entries are refcounted and removed when idle.
type fileLocks struct {
	mu    sync.Mutex
	locks map[int64]*fileLock
}

type fileLock struct {
	mu   sync.Mutex
	refs int
}

func (l *fileLocks) acquire(fileID int64) *fileLock {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[int64]*fileLock)
	}
	fl, ok := l.locks[fileID]
	if !ok {
		fl = &fileLock{}
		l.locks[fileID] = fl
	}
	fl.refs++
	l.mu.Unlock()

	fl.mu.Lock()
	return fl
}

func (l *fileLocks) release(fileID int64, fl *fileLock) {
	fl.mu.Unlock()

	l.mu.Lock()
	fl.refs--
	if fl.refs == 0 {
		delete(l.locks, fileID)
	}
	l.mu.Unlock()
}
