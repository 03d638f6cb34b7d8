// Package refresh keeps the reference set current: every refresh interval
// it promotes one historical match per person into a new reference sample,
// picking the match whose score sits closest to the configured target. A
// score near the target is a good teaching example; a near-1.0 match adds
// nothing the set does not already know.
package refresh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/image/draw"

	"github.com/kozaktomas/photo-courier/internal/alerting"
	"github.com/kozaktomas/photo-courier/internal/config"
	"github.com/kozaktomas/photo-courier/internal/recognize"
	"github.com/kozaktomas/photo-courier/internal/source"
	"github.com/kozaktomas/photo-courier/internal/store"
)

// Refresher promotes historical matches into reference samples.
type Refresher struct {
	cfg      *config.Config
	st       store.Store
	provider recognize.Provider
	alerts   *alerting.Manager

	now func() time.Time
}

// New creates a refresher.
func New(cfg *config.Config, st store.Store, provider recognize.Provider, alerts *alerting.Manager) *Refresher {
	return &Refresher{
		cfg:      cfg,
		st:       st,
		provider: provider,
		alerts:   alerts,
		now:      time.Now,
	}
}

// Due reports whether enough time has passed since the last refresh run.
// A store that has never refreshed is always due.
func (r *Refresher) Due(ctx context.Context) (bool, error) {
	if !r.cfg.Refresh.Enabled {
		return false, nil
	}
	last, err := r.st.LastRefreshTime(ctx)
	if err != nil {
		return false, fmt.Errorf("last refresh time: %w", err)
	}
	if last.IsZero() {
		return true, nil
	}
	interval := time.Duration(r.cfg.Refresh.IntervalDays) * 24 * time.Hour
	return r.now().Sub(last) >= interval, nil
}

// Run refreshes every person directory under KnownPeopleDir, fetching
// candidate originals through the given sources. It returns how many
// reference samples were added. A person with no usable candidate is
// skipped, not an error.
func (r *Refresher) Run(ctx context.Context, sources []source.Source) (int, error) {
	persons, err := r.listPersons()
	if err != nil {
		return 0, err
	}

	added := 0
	for _, person := range persons {
		rec, err := r.refreshPerson(ctx, person, sources)
		if err != nil {
			return added, fmt.Errorf("refresh %s: %w", person, err)
		}
		if rec == nil {
			continue
		}
		added++
		if err := r.alerts.SendRefreshNotification(ctx, *rec); err != nil {
			// The sample is already saved; a lost notification is not
			// worth failing the run over.
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
	}
	return added, nil
}

// refreshPerson tries candidates in score-delta order until one yields a
// croppable face. Returns nil when nothing was added.
func (r *Refresher) refreshPerson(ctx context.Context, person string, sources []source.Source) (*store.RefreshRecord, error) {
	cands, err := r.st.RefreshCandidates(ctx, person, r.cfg.Refresh.TargetScore)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	for _, cand := range cands {
		if source.IsVideo(cand.SourcePath) {
			continue
		}
		local, cleanup, err := fetchFromSources(ctx, sources, cand.SourcePath)
		if err != nil {
			// The original may have been deleted since it matched.
			continue
		}
		sample, err := r.cropFace(ctx, local)
		cleanup()
		if errors.Is(err, recognize.ErrNoFace) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("crop %s: %w", cand.SourcePath, err)
		}

		addedPath, err := r.saveSample(person, sample)
		if err != nil {
			return nil, err
		}
		rec := store.RefreshRecord{
			Person:      person,
			SourcePath:  cand.SourcePath,
			AddedPath:   addedPath,
			SourceScore: cand.MatchScore,
			TargetScore: r.cfg.Refresh.TargetScore,
			RunAt:       r.now().UTC(),
		}
		if err := r.st.AddRefreshRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("record refresh: %w", err)
		}
		return &rec, nil
	}
	return nil, nil
}

// cropFace locates the face in the image and returns a padded JPEG crop.
func (r *Refresher) cropFace(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	box, err := r.provider.LocateFace(ctx, data)
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	crop := padRect(box, r.cfg.Refresh.CropPaddingPercent).Intersect(img.Bounds())
	if crop.Empty() {
		return nil, recognize.ErrNoFace
	}

	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Copy(dst, image.Point{}, img, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Refresher) saveSample(person string, sample []byte) (string, error) {
	dir := filepath.Join(r.cfg.KnownPeopleDir, person)
	name := fmt.Sprintf("auto-%s.jpg", r.now().UTC().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, sample, 0o644); err != nil {
		return "", fmt.Errorf("save reference sample: %w", err)
	}
	return path, nil
}

// listPersons returns the person subdirectories of KnownPeopleDir, sorted.
func (r *Refresher) listPersons() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.KnownPeopleDir)
	if err != nil {
		return nil, fmt.Errorf("read known people dir: %w", err)
	}
	var persons []string
	for _, e := range entries {
		if e.IsDir() {
			persons = append(persons, e.Name())
		}
	}
	sort.Strings(persons)
	return persons, nil
}

// padRect grows the box by pct of its size on every side.
func padRect(box image.Rectangle, pct float64) image.Rectangle {
	padX := int(float64(box.Dx()) * pct)
	padY := int(float64(box.Dy()) * pct)
	return image.Rect(box.Min.X-padX, box.Min.Y-padY, box.Max.X+padX, box.Max.Y+padY)
}

// fetchFromSources tries each source until one produces the file.
func fetchFromSources(ctx context.Context, sources []source.Source, path string) (string, func(), error) {
	var lastErr error
	for _, src := range sources {
		local, cleanup, err := src.Fetch(ctx, source.Item{Path: path})
		if err == nil {
			return local, cleanup, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no sources configured")
	}
	return "", nil, fmt.Errorf("fetch %s: %w", path, lastErr)
}
