// Package scanner runs the ingestion pipeline: list sources, dedup, run
// recognition, upload matches and record the outcome. One ScanOnce call is
// one batch; per-item failures become error events and never abort the
// batch.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/kozaktomas/photo-courier/internal/alerting"
	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/recognize"
	"github.com/kozaktomas/photo-courier/internal/retry"
	"github.com/kozaktomas/photo-courier/internal/source"
	"github.com/kozaktomas/photo-courier/internal/store"
)

// Uploader sends a local file to the photo service.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// BatchResult summarises one scan pass.
type BatchResult struct {
	Scanned  int
	Matched  int
	Uploaded int
	Errored  int
}

// frameIter abstracts the ffmpeg frame sequence so the video decision loop
// can be exercised without a video file.
type frameIter interface {
	Next() ([]byte, error)
	Close() error
}

// Scanner processes media items from configured sources.
type Scanner struct {
	cfg      *config.Config
	st       store.Store
	provider recognize.Provider
	refs     *recognize.ReferenceSet
	uploader Uploader
	alerts   *alerting.Manager

	frames func(ctx context.Context, path string, fps float64) (frameIter, error)
	probe  func(ctx context.Context, path string) (float64, error)
}

// New creates a scanner.
func New(cfg *config.Config, st store.Store, provider recognize.Provider, refs *recognize.ReferenceSet, uploader Uploader, alerts *alerting.Manager) *Scanner {
	s := &Scanner{
		cfg:      cfg,
		st:       st,
		provider: provider,
		refs:     refs,
		uploader: uploader,
		alerts:   alerts,
	}
	s.frames = func(ctx context.Context, path string, fps float64) (frameIter, error) {
		return NewFrameSeq(ctx, cfg.Video.FFmpegPath, path, fps)
	}
	s.probe = func(ctx context.Context, path string) (float64, error) {
		return ProbeDuration(ctx, cfg.Video.FFprobePath, path)
	}
	return s
}

// ScanOnce runs one batch over all sources. Items are processed in listing
// order; the returned error is only non-nil when the batch as a whole could
// not run.
func (s *Scanner) ScanOnce(ctx context.Context, sources []source.Source) (BatchResult, error) {
	var res BatchResult
	for _, src := range sources {
		items, err := src.List(ctx)
		if err != nil {
			res.Errored++
			s.recordError(ctx, store.ErrorTypeSource, fmt.Sprintf("listing %s failed: %v", src.Name(), err), "")
			continue
		}
		if len(items) == 0 {
			continue
		}

		bar := progressbar.NewOptions(len(items),
			progressbar.OptionSetDescription(fmt.Sprintf("Scanning %s", src.Name())),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		for _, item := range items {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			_ = bar.Add(1)

			outcome, err := s.processItem(ctx, src, item)
			if outcome.scanned {
				res.Scanned++
			}
			if outcome.matched {
				res.Matched++
			}
			if outcome.uploaded {
				res.Uploaded++
			}
			if err != nil {
				res.Errored++
				s.recordError(ctx, outcome.errorType, err.Error(), item.Path)
			}
		}
		_ = bar.Finish()
	}
	return res, nil
}

type itemOutcome struct {
	scanned   bool
	matched   bool
	uploaded  bool
	errorType string
}

// processItem runs the per-item pipeline. The dedup key check happens
// before any download so known paths cost nothing.
func (s *Scanner) processItem(ctx context.Context, src source.Source, item source.Item) (itemOutcome, error) {
	outcome := itemOutcome{errorType: store.ErrorTypeProcessing}

	key := store.DedupKey(item.Path)
	seen, err := s.st.Seen(ctx, key)
	if err != nil {
		outcome.errorType = store.ErrorTypeStore
		return outcome, fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		return outcome, nil
	}
	outcome.scanned = true

	local, cleanup, err := s.fetch(ctx, src, item)
	if err != nil {
		outcome.errorType = store.ErrorTypeSource
		return outcome, fmt.Errorf("fetch: %w", err)
	}
	defer cleanup()

	contentHash, err := hashFile(local)
	if err != nil {
		return outcome, fmt.Errorf("hash content: %w", err)
	}

	rec := store.FileRecord{
		DedupKey:    key,
		SourcePath:  item.Path,
		ContentHash: contentHash,
	}

	// Second dedup layer: the same bytes under a new path are recorded but
	// never re-recognized or re-uploaded.
	dup, err := s.st.SeenContent(ctx, contentHash)
	if err != nil {
		outcome.errorType = store.ErrorTypeStore
		return outcome, fmt.Errorf("content dedup lookup: %w", err)
	}
	if dup {
		rec.ContentDuplicate = true
		if err := s.st.AddFile(ctx, rec); err != nil {
			outcome.errorType = store.ErrorTypeStore
			return outcome, fmt.Errorf("persist duplicate record: %w", err)
		}
		return outcome, nil
	}

	best, err := s.recognizeFile(ctx, item.Path, local)
	if err != nil {
		return outcome, fmt.Errorf("recognition: %w", err)
	}

	threshold := s.cfg.Recognition.Threshold
	if best != nil {
		rec.MatchScore = &best.Score
	}

	switch {
	case best != nil && best.Score >= threshold:
		rec.Matched = true
		rec.MatchedPerson = best.Person
		outcome.matched = true
		if err := s.st.AddFile(ctx, rec); err != nil {
			outcome.errorType = store.ErrorTypeStore
			return outcome, fmt.Errorf("persist match record: %w", err)
		}
		if err := s.upload(ctx, key, local); err != nil {
			outcome.errorType = store.ErrorTypeUpload
			return outcome, err
		}
		outcome.uploaded = true
		if s.cfg.Scan.DeleteSourceAfterUpload {
			if err := src.Delete(ctx, item); err != nil {
				outcome.errorType = store.ErrorTypeSource
				return outcome, fmt.Errorf("delete uploaded source: %w", err)
			}
		}
		return outcome, nil

	case best != nil && best.Score >= threshold-s.cfg.Alerting.BorderlineOffset:
		// Close call: keep the item, flag it for review.
		if err := s.alerts.RecordBorderline(ctx, item.Path, best.Score, threshold, best.Person); err != nil {
			outcome.errorType = store.ErrorTypeStore
			return outcome, fmt.Errorf("record borderline event: %w", err)
		}
	}

	if err := s.st.AddFile(ctx, rec); err != nil {
		outcome.errorType = store.ErrorTypeStore
		return outcome, fmt.Errorf("persist record: %w", err)
	}
	if s.cfg.Scan.DeleteUnmatched {
		if err := src.Delete(ctx, item); err != nil {
			outcome.errorType = store.ErrorTypeSource
			return outcome, fmt.Errorf("delete unmatched source: %w", err)
		}
	}
	return outcome, nil
}

// fetch downloads the item with bounded retries; a transient source error
// (throttled or unreachable container) is not worth losing the item over.
func (s *Scanner) fetch(ctx context.Context, src source.Source, item source.Item) (string, func(), error) {
	var (
		local   string
		cleanup func()
	)
	err := retry.Do(ctx, retry.DefaultAttempts, func() error {
		var err error
		local, cleanup, err = src.Fetch(ctx, item)
		return err
	})
	return local, cleanup, err
}

// match runs the recognition provider with bounded retries. Decode failures
// and other permanent errors come back after one attempt.
func (s *Scanner) match(ctx context.Context, data []byte) ([]recognize.Candidate, error) {
	var candidates []recognize.Candidate
	err := retry.Do(ctx, retry.DefaultAttempts, func() error {
		var err error
		candidates, err = s.provider.Match(ctx, data, s.refs)
		return err
	})
	return candidates, err
}

// recognizeFile returns the best candidate for an image or video, or nil
// when nothing with a face was found.
func (s *Scanner) recognizeFile(ctx context.Context, itemPath, local string) (*recognize.Candidate, error) {
	if source.IsVideo(itemPath) {
		return s.recognizeVideo(ctx, local)
	}

	data, err := os.ReadFile(local)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	candidates, err := s.match(ctx, data)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return &candidates[0], nil
}

// recognizeVideo samples frames lazily and stops at the first frame that
// crosses the threshold; a match anywhere backs up the whole clip. Frames
// that fail recognition individually are skipped.
func (s *Scanner) recognizeVideo(ctx context.Context, local string) (*recognize.Candidate, error) {
	duration, err := s.probe(ctx, local)
	if err != nil {
		return nil, err
	}
	fps := SampleRate(duration, &s.cfg.Video)

	frames, err := s.frames(ctx, local, fps)
	if err != nil {
		return nil, err
	}
	defer frames.Close()

	var best *recognize.Candidate
	for {
		frame, err := frames.Next()
		if err == io.EOF {
			return best, nil
		}
		if err != nil {
			return best, err
		}

		candidates, err := s.match(ctx, frame)
		if err != nil {
			if retry.IsTransient(err) {
				// Retries are exhausted at this point; give up on the clip.
				return best, err
			}
			// Frame-level decode failures skip the frame.
			continue
		}
		if len(candidates) == 0 {
			continue
		}
		if best == nil || candidates[0].Score > best.Score {
			c := candidates[0]
			best = &c
		}
		if best.Score >= s.cfg.Recognition.Threshold {
			return best, nil
		}
	}
}

// upload pushes the file with bounded retries and marks the record. The
// uploaded flag is only set after the service confirmed the upload.
func (s *Scanner) upload(ctx context.Context, key, local string) error {
	err := retry.Do(ctx, retry.DefaultAttempts, func() error {
		_, err := s.uploader.Upload(ctx, local)
		return err
	})
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := s.st.MarkUploaded(ctx, key); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	return nil
}

func (s *Scanner) recordError(ctx context.Context, errorType, message, fileRef string) {
	if err := s.alerts.RecordError(ctx, errorType, message, fileRef); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to record error event: %v\n", err)
	}
}

// hashFile computes the sha256 of a file's content.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
