package recognize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/photo-courier/internal/store"
)

// hnswMaxNeighbors is the M parameter of the graph.
const hnswMaxNeighbors = 16

var refImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ReferenceSet holds the known-people samples: one subdirectory per person
// under the configured directory, each containing face images. Embeddings
// are computed once per directory state and cached in the store.
type ReferenceSet struct {
	persons []string
	refs    []store.ReferenceEmbedding
	graph   *hnsw.Graph[int]
}

// Persons returns the known person names, sorted.
func (r *ReferenceSet) Persons() []string {
	return r.persons
}

// Size returns the number of reference embeddings.
func (r *ReferenceSet) Size() int {
	return len(r.refs)
}

// Nearest returns the person whose reference embedding is closest to the
// query, with the similarity score normalized to [0, 1]. ok is false when
// the set carries no embeddings.
func (r *ReferenceSet) Nearest(query []float32) (string, float64, bool) {
	if r.graph == nil || len(r.refs) == 0 {
		return "", 0, false
	}
	neighbors := r.graph.Search(query, 1)
	if len(neighbors) == 0 {
		return "", 0, false
	}
	ref := r.refs[neighbors[0].Key]
	score := CosineSimilarity(query, ref.Embedding)
	if score < 0 {
		score = 0
	}
	return ref.Person, score, true
}

// CosineSimilarity computes the cosine of the angle between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LoadReferenceSet builds the reference set from the known-people directory.
// With an embedder, sample embeddings are computed (or read from the store
// cache keyed by backend and directory state) and indexed for nearest-person
// lookup. Without one, only the person list is loaded.
func LoadReferenceSet(ctx context.Context, st store.Store, embedder *EmbeddingClient, dir, backend string) (*ReferenceSet, error) {
	samples, persons, err := listSamples(dir)
	if err != nil {
		return nil, err
	}
	set := &ReferenceSet{persons: persons}
	if embedder == nil {
		return set, nil
	}

	cacheKey := "refset:" + backend
	filesHash, err := hashSamples(samples)
	if err != nil {
		return nil, err
	}

	refs, ok, err := st.CachedReferenceSet(ctx, cacheKey, filesHash)
	if err != nil {
		return nil, fmt.Errorf("load reference cache: %w", err)
	}
	if !ok {
		refs, err = embedSamples(ctx, embedder, samples)
		if err != nil {
			return nil, err
		}
		if err := st.SaveReferenceSet(ctx, cacheKey, filesHash, refs); err != nil {
			return nil, fmt.Errorf("save reference cache: %w", err)
		}
	}

	set.refs = refs
	set.buildIndex()
	return set, nil
}

type refSample struct {
	person string
	path   string
}

func listSamples(dir string) ([]refSample, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read known people directory: %w", err)
	}

	var samples []refSample
	var persons []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		person := entry.Name()
		files, err := os.ReadDir(filepath.Join(dir, person))
		if err != nil {
			return nil, nil, fmt.Errorf("read person directory %s: %w", person, err)
		}
		found := false
		for _, f := range files {
			if f.IsDir() || !refImageExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			samples = append(samples, refSample{person: person, path: filepath.Join(dir, person, f.Name())})
			found = true
		}
		if found {
			persons = append(persons, person)
		}
	}
	sort.Strings(persons)
	sort.Slice(samples, func(i, j int) bool { return samples[i].path < samples[j].path })
	return samples, persons, nil
}

// hashSamples fingerprints the directory state so the embedding cache can
// be invalidated when samples are added, removed or replaced.
func hashSamples(samples []refSample) (string, error) {
	h := sha256.New()
	for _, s := range samples {
		info, err := os.Stat(s.path)
		if err != nil {
			return "", fmt.Errorf("stat sample %s: %w", s.path, err)
		}
		fmt.Fprintf(h, "%s|%d|%d\n", s.path, info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// embedSamples computes one embedding per sample image, taking the face
// with the highest detection score. Samples without a detectable face are
// skipped.
func embedSamples(ctx context.Context, embedder *EmbeddingClient, samples []refSample) ([]store.ReferenceEmbedding, error) {
	var refs []store.ReferenceEmbedding
	for _, s := range samples {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("read sample %s: %w", s.path, err)
		}
		resp, err := embedder.ComputeFaceEmbeddings(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("embed sample %s: %w", s.path, err)
		}
		var best *FaceDetection
		for i := range resp.Faces {
			face := &resp.Faces[i]
			if len(face.Embedding) == 0 {
				continue
			}
			if best == nil || face.DetScore > best.DetScore {
				best = face
			}
		}
		if best == nil {
			continue
		}
		refs = append(refs, store.ReferenceEmbedding{Person: s.person, Embedding: best.Embedding})
	}
	return refs, nil
}

func (r *ReferenceSet) buildIndex() {
	if len(r.refs) == 0 {
		return
	}
	g := hnsw.NewGraph[int]()
	g.M = hnswMaxNeighbors
	g.Ml = 1.0 / float64(hnswMaxNeighbors)
	g.Distance = hnsw.CosineDistance
	for i, ref := range r.refs {
		g.Add(hnsw.MakeNode(i, ref.Embedding))
	}
	r.graph = g
}

func sortCandidates(candidates []Candidate) {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
}
