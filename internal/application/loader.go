// Package application contains use-case orchestration services: the
// intermediate report loader, the commit merge processor, the bundle
// processor, and the queue worker that drives them.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/coverdeck/coverdeck/internal/adapter/driven/archive"
	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
	"github.com/coverdeck/coverdeck/internal/report"
)

const defaultLoaderConcurrency = 8

// maxFetchRetries bounds the backoff loop around a rate-limited archive read.
const maxFetchRetries = 3

// UploadFailure is a classified per-upload load failure. Unclassifiable
// errors never become failures; they abort the whole load.
type UploadFailure struct {
	Code   model.UploadErrorCode
	Detail string
}

// LoadResult holds the per-upload outcome of one load pass: a parsed
// single-session report per succeeded upload, a classified failure for the
// rest. Exactly one of the two maps holds an entry for every input upload.
type LoadResult struct {
	Reports  map[int64]*report.Report
	Failures map[int64]UploadFailure
}

// Loader materializes per-upload intermediate reports from the archive. A
// first pass parses the raw payload and persists the intermediate blobs; a
// re-run after a crash finds the blobs and skips re-parsing.
type Loader struct {
	archive     driven.ArchiveStore
	concurrency int
}

// NewLoader creates a Loader reading through the given archive store.
// concurrency bounds the parallel fan-out; zero or negative selects the default.
func NewLoader(archiveStore driven.ArchiveStore, concurrency int) *Loader {
	if concurrency <= 0 {
		concurrency = defaultLoaderConcurrency
	}
	return &Loader{archive: archiveStore, concurrency: concurrency}
}

// Load fetches and parses every upload in parallel. Classified failures
// (missing artifact, rate limit, malformed payload) are collected per upload;
// any other error aborts the load and surfaces to the caller.
func (l *Loader) Load(ctx context.Context, paths archive.Paths, sha string, uploads []model.Upload) (*LoadResult, error) {
	result := &LoadResult{
		Reports:  make(map[int64]*report.Report, len(uploads)),
		Failures: make(map[int64]UploadFailure),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for _, upload := range uploads {
		g.Go(func() error {
			rep, failure, err := l.loadOne(gctx, paths, sha, upload)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				result.Failures[upload.ID] = *failure
			} else {
				result.Reports[upload.ID] = rep
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// loadOne resolves one upload to a single-session report. The returned
// failure is non-nil for classified errors; a non-nil error is unclassified
// and fatal for the whole load.
func (l *Loader) loadOne(ctx context.Context, paths archive.Paths, sha string, upload model.Upload) (*report.Report, *UploadFailure, error) {
	rep, found, err := l.readIntermediate(ctx, paths, sha, upload)
	if err != nil {
		return nil, nil, err
	}
	if found {
		return rep, nil, nil
	}

	raw, err := l.fetchRaw(ctx, upload.StoragePath)
	if err != nil {
		if failure := classifyFetch(err, upload.StoragePath); failure != nil {
			return nil, failure, nil
		}
		return nil, nil, fmt.Errorf("fetch upload %d: %w", upload.ID, err)
	}

	rep, err = report.ParseUpload(raw, upload.OrderNumber, upload.Flags)
	if err != nil {
		if errors.Is(err, report.ErrMalformed) {
			return nil, &UploadFailure{Code: model.UploadErrorParser, Detail: err.Error()}, nil
		}
		return nil, nil, fmt.Errorf("parse upload %d: %w", upload.ID, err)
	}

	if err := l.writeIntermediate(ctx, paths, sha, upload.ID, rep); err != nil {
		return nil, nil, err
	}
	return rep, nil, nil
}

// readIntermediate loads the two persisted intermediate blobs if both exist.
// A corrupt pair is discarded and re-derived from the raw payload.
func (l *Loader) readIntermediate(ctx context.Context, paths archive.Paths, sha string, upload model.Upload) (*report.Report, bool, error) {
	chunks, err := l.archive.Read(ctx, paths.IntermediateChunk(sha, upload.ID))
	if errors.Is(err, driven.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		if failureOnly(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read intermediate chunk for upload %d: %w", upload.ID, err)
	}

	filesSessions, err := l.archive.Read(ctx, paths.IntermediateFilesSessions(sha, upload.ID))
	if errors.Is(err, driven.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		if failureOnly(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read intermediate files/sessions for upload %d: %w", upload.ID, err)
	}

	rep, err := report.UnmarshalIntermediate(chunks, filesSessions)
	if err != nil {
		slog.Warn("discarding corrupt intermediate blobs",
			"upload_id", upload.ID, "commit", sha, "error", err)
		return nil, false, nil
	}
	return rep, true, nil
}

func (l *Loader) writeIntermediate(ctx context.Context, paths archive.Paths, sha string, uploadID int64, rep *report.Report) error {
	chunks, err := rep.MarshalChunks()
	if err != nil {
		return err
	}
	filesSessions, err := rep.MarshalFilesSessions()
	if err != nil {
		return err
	}

	if err := l.archive.Write(ctx, paths.IntermediateChunk(sha, uploadID), chunks); err != nil {
		return fmt.Errorf("write intermediate chunk for upload %d: %w", uploadID, err)
	}
	if err := l.archive.Write(ctx, paths.IntermediateFilesSessions(sha, uploadID), filesSessions); err != nil {
		return fmt.Errorf("write intermediate files/sessions for upload %d: %w", uploadID, err)
	}
	return nil
}

// fetchRaw reads the raw payload, retrying rate-limited reads with
// exponential backoff. Any other error is returned as-is for classification.
func (l *Loader) fetchRaw(ctx context.Context, path string) ([]byte, error) {
	var raw []byte

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newFetchBackOff(), maxFetchRetries), ctx)

	err := backoff.Retry(func() error {
		var err error
		raw, err = l.archive.Read(ctx, path)
		if err == nil {
			return nil
		}
		if errors.Is(err, driven.ErrRateLimited) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func newFetchBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// Cleanup removes the intermediate and scratch blobs left behind by the
// uploads of one processed commit. Best effort; a failed delete only logs.
func (l *Loader) Cleanup(ctx context.Context, paths archive.Paths, sha string, uploads []model.Upload) {
	targets := make([]string, 0, len(uploads)*3)
	for _, u := range uploads {
		targets = append(targets,
			paths.IntermediateChunk(sha, u.ID),
			paths.IntermediateFilesSessions(sha, u.ID),
			paths.ScratchChunk(sha, u.ID),
		)
	}
	if err := l.archive.DeleteMany(ctx, targets); err != nil {
		slog.Warn("intermediate cleanup failed", "commit", sha, "error", err)
	}
}

// classifyFetch maps archive read errors onto the per-upload error taxonomy.
// Returns nil for unclassifiable errors.
func classifyFetch(err error, path string) *UploadFailure {
	switch {
	case errors.Is(err, driven.ErrNotFound):
		return &UploadFailure{Code: model.UploadErrorFileNotInStorage, Detail: path}
	case errors.Is(err, driven.ErrRateLimited):
		return &UploadFailure{Code: model.UploadErrorRateLimit, Detail: path}
	default:
		return nil
	}
}

// failureOnly reports whether the error is one of the classified archive
// failures. Used where absence-like conditions should fall back to the raw
// payload rather than fail the load.
func failureOnly(err error) bool {
	return errors.Is(err, driven.ErrNotFound) || errors.Is(err, driven.ErrRateLimited)
}
