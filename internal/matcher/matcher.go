// Package matcher resolves a query face embedding to the best matching enrolled identity.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// Options tune matching.
type Options struct {
	Threshold          float64       // best score at or above this is a match (default 0.6)
	LowConfidenceFloor float64       // scores in [floor, threshold) are LOW_CONFIDENCE (default 0.4)
	MinEmbeddings      int           // identities with fewer embeddings are not eligible (default 1)
	ShortlistSize      int           // identities scored after shortlisting, 0 scores everyone
	GalleryTTL         time.Duration // how long a loaded gallery is reused, 0 reloads every call
}

// DefaultOptions returns the stock matching settings.
func DefaultOptions() Options {
	return Options{
		Threshold:          0.6,
		LowConfidenceFloor: 0.4,
		MinEmbeddings:      1,
		GalleryTTL:         30 * time.Second,
	}
}

// Result is the outcome of one match.
type Result struct {
	Outcome    database.Outcome   `json:"outcome"`
	Identity   *database.Identity `json:"identity,omitempty"` // set only for RECOGNIZED
	Confidence float64            `json:"confidence"`
	// CandidateID is the best scoring identity even when it was not accepted, 0 for none.
	CandidateID int64 `json:"candidate_id,omitempty"`
}

// IdentityID returns the matched identity ID, 0 when nothing matched.
func (r Result) IdentityID() int64 {
	if r.Identity == nil {
		return 0
	}
	return r.Identity.ID
}

// Candidate is one scored identity.
type Candidate struct {
	IdentityID int64   `json:"identity_id"`
	Name       string  `json:"name"`
	Active     bool    `json:"active"`
	Score      float64 `json:"score"`
	Embeddings int     `json:"embeddings"`
}

// Shortlister narrows a large gallery down to the k most promising identities.
type Shortlister interface {
	Shortlist(ctx context.Context, query []float32, k int) ([]int64, error)
}

// ShortlistFunc adapts a function to Shortlister.
type ShortlistFunc func(ctx context.Context, query []float32, k int) ([]int64, error)

func (f ShortlistFunc) Shortlist(ctx context.Context, query []float32, k int) ([]int64, error) {
	return f(ctx, query, k)
}

// galleryObserver is implemented by shortlisters that index the loaded gallery.
type galleryObserver interface {
	Rebuild(gallery map[int64][]database.EmbeddingRecord) error
}

type gallery struct {
	embeddings map[int64][]database.EmbeddingRecord
	identities map[int64]database.Identity
	loadedAt   time.Time
}

// Matcher scores a query against every eligible identity's embeddings.
// It is safe for concurrent use.
type Matcher struct {
	embeddings  database.EmbeddingReader
	identities  database.IdentityReader
	shortlister Shortlister
	opts        Options
	log         *logger.Logger
	now         func() time.Time

	mu     sync.Mutex
	cached *gallery
}

// New creates a matcher. shortlister may be nil.
func New(embeddings database.EmbeddingReader, identities database.IdentityReader, shortlister Shortlister, opts Options, log *logger.Logger) *Matcher {
	if opts.MinEmbeddings < 1 {
		opts.MinEmbeddings = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Matcher{
		embeddings:  embeddings,
		identities:  identities,
		shortlister: shortlister,
		opts:        opts,
		log:         log.With("component", "matcher"),
		now:         time.Now,
	}
}

// Options returns the active settings.
func (m *Matcher) Options() Options {
	return m.opts
}

// Invalidate drops the cached gallery so the next match reloads it.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
}

func (m *Matcher) gallery(ctx context.Context) (*gallery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil && m.opts.GalleryTTL > 0 && m.now().Sub(m.cached.loadedAt) < m.opts.GalleryTTL {
		return m.cached, nil
	}

	embeddings, err := m.embeddings.AllGroupedByIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading embeddings: %w", err)
	}
	list, err := m.identities.ListIdentities(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("loading identities: %w", err)
	}
	identities := make(map[int64]database.Identity, len(list))
	for _, id := range list {
		identities[id.ID] = id
	}

	g := &gallery{embeddings: embeddings, identities: identities, loadedAt: m.now()}
	if obs, ok := m.shortlister.(galleryObserver); ok && m.opts.ShortlistSize > 0 {
		if err := obs.Rebuild(embeddings); err != nil {
			m.log.Warn("rebuilding shortlist index failed", "error", err)
		}
	}
	m.cached = g
	return g, nil
}

// MeanSimilarity averages the dot product of query with every record of matching dimension.
// n is the number of records that contributed.
func MeanSimilarity(query []float32, records []database.EmbeddingRecord) (score float64, n int) {
	var sum float64
	for _, rec := range records {
		if len(rec.Vector) != len(query) {
			continue
		}
		sum += database.Dot(query, rec.Vector)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Rank scores every eligible identity and returns them best first.
// limit <= 0 returns all of them.
func (m *Matcher) Rank(ctx context.Context, query []float32, limit int) ([]Candidate, error) {
	_, candidates, err := m.rank(ctx, query)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (m *Matcher) rank(ctx context.Context, query []float32) (*gallery, []Candidate, error) {
	if len(query) == 0 {
		return nil, nil, &database.ValidationError{Field: "vector", Err: fmt.Errorf("%w: empty", database.ErrInvalidVector)}
	}
	q, err := database.Normalize(query)
	if err != nil {
		// A zero or non-finite query carries no identity.
		return nil, nil, nil
	}
	g, err := m.gallery(ctx)
	if err != nil {
		return nil, nil, err
	}
	return g, m.score(ctx, g, q), nil
}

func (m *Matcher) score(ctx context.Context, g *gallery, q []float32) []Candidate {
	ids := m.candidateIDs(ctx, g, q)

	candidates := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		score, n := MeanSimilarity(q, g.embeddings[id])
		if n < m.opts.MinEmbeddings {
			continue
		}
		identity := g.identities[id]
		candidates = append(candidates, Candidate{
			IdentityID: id,
			Name:       identity.Name,
			Active:     identity.Active,
			Score:      score,
			Embeddings: n,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].IdentityID < candidates[j].IdentityID
	})
	return candidates
}

func (m *Matcher) candidateIDs(ctx context.Context, g *gallery, q []float32) []int64 {
	all := make([]int64, 0, len(g.embeddings))
	for id := range g.embeddings {
		all = append(all, id)
	}
	if m.shortlister == nil || m.opts.ShortlistSize <= 0 || len(all) <= m.opts.ShortlistSize {
		return all
	}

	short, err := m.shortlister.Shortlist(ctx, q, m.opts.ShortlistSize)
	if err != nil || len(short) == 0 {
		m.log.Warn("shortlist unavailable, scoring full gallery", "error", err)
		return all
	}
	return short
}

// Match returns the best matching identity for query.
//
// The best mean score at or above the threshold is RECOGNIZED when that identity is
// active and UNKNOWN when it is not. A best score in [floor, threshold) is LOW_CONFIDENCE.
// An empty gallery or a zero query yields UNKNOWN without error.
func (m *Matcher) Match(ctx context.Context, query []float32) (Result, error) {
	g, candidates, err := m.rank(ctx, query)
	if err != nil {
		return Result{Outcome: database.OutcomeUnknown}, err
	}
	if len(candidates) == 0 {
		return Result{Outcome: database.OutcomeUnknown}, nil
	}

	best := candidates[0]
	res := Result{Confidence: best.Score, CandidateID: best.IdentityID}
	switch {
	case best.Score >= m.opts.Threshold && best.Active:
		identity := g.identities[best.IdentityID]
		res.Outcome = database.OutcomeRecognized
		res.Identity = &identity
	case best.Score >= m.opts.Threshold:
		// The best match is deactivated or missing from the registry.
		res.Outcome = database.OutcomeUnknown
	case best.Score >= m.opts.LowConfidenceFloor:
		res.Outcome = database.OutcomeLowConfidence
	default:
		res.Outcome = database.OutcomeUnknown
	}
	return res, nil
}
