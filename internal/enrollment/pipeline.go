// Package enrollment turns face samples of one identity into quality-filtered
// embeddings and swaps them into the embedding store.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logger"
)

// ErrNoAcceptedSamples is returned, together with the report, when no sample passed.
// The identity's previous embeddings are left untouched in that case.
var ErrNoAcceptedSamples = errors.New("no enrollment sample was accepted")

// Embedder computes the embedding of a cropped face. An error or an empty vector
// means no embedding is available for the sample.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float32, error)
}

// Sample is one localized face of the identity being enrolled.
type Sample struct {
	Label       string      // file name or frame reference, used in the report
	Face        image.Image // cropped face region, passed to the Embedder
	Vector      []float32   // precomputed embedding, skips the Embedder when set
	Box         facematch.BBox
	FrameWidth  int
	FrameHeight int
}

// RejectReason classifies why a sample was not enrolled.
type RejectReason string

const (
	ReasonNoEmbedding    RejectReason = "no-embedding"
	ReasonBelowThreshold RejectReason = "below-threshold"
)

// Rejection describes one skipped sample.
type Rejection struct {
	Index   int          `json:"index"`
	Label   string       `json:"label,omitempty"`
	Reason  RejectReason `json:"reason"`
	Quality float64      `json:"quality,omitempty"`
	Detail  string       `json:"detail,omitempty"`
}

// Report summarizes one enrollment run.
type Report struct {
	IdentityID   int64       `json:"identity_id"`
	Processed    int         `json:"processed"`
	Accepted     int         `json:"accepted"`
	Rejected     []Rejection `json:"rejected"`
	EmbeddingIDs []int64     `json:"embedding_ids,omitempty"`
	Qualities    []float64   `json:"qualities,omitempty"`
}

// Options tune the pipeline.
type Options struct {
	MinQuality float64 // samples scoring below are rejected (default 0.5)
	Weights    Weights
	Source     string // source label written with each embedding
	Workers    int    // concurrent Embedder calls per run (default 1)
}

// DefaultOptions returns the stock enrollment settings.
func DefaultOptions() Options {
	return Options{
		MinQuality: 0.5,
		Weights:    DefaultWeights,
		Source:     database.SourceEnrollment,
		Workers:    1,
	}
}

// Pipeline enrolls identities.
type Pipeline struct {
	identities database.IdentityReader
	store      database.EmbeddingStore
	embedder   Embedder
	opts       Options
	log        *logger.Logger
}

// NewPipeline creates a pipeline. embedder may be nil when every sample carries a Vector.
func NewPipeline(identities database.IdentityReader, store database.EmbeddingStore, embedder Embedder, opts Options, log *logger.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Source == "" {
		opts.Source = database.SourceEnrollment
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{
		identities: identities,
		store:      store,
		embedder:   embedder,
		opts:       opts,
		log:        log.With("component", "enrollment"),
	}
}

type scored struct {
	vector  []float32
	quality float64
	reject  *Rejection
}

// Enroll embeds and scores every sample, then replaces the identity's embeddings
// with the accepted ones. When nothing is accepted it returns the report with
// ErrNoAcceptedSamples and does not touch the store.
func (p *Pipeline) Enroll(ctx context.Context, identityID int64, samples []Sample) (*Report, error) {
	identity, err := p.identities.GetIdentity(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("loading identity %d: %w", identityID, err)
	}
	if identity == nil {
		return nil, &database.ValidationError{Field: "identity_id", Err: fmt.Errorf("%w: %d", database.ErrUnknownIdentity, identityID)}
	}

	results := make([]scored, len(samples))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.score(gctx, i, samples[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scoring samples: %w", err)
	}

	report := &Report{IdentityID: identityID, Processed: len(samples), Rejected: []Rejection{}}
	var accepted []database.NewEmbedding
	for _, r := range results {
		if r.reject != nil {
			report.Rejected = append(report.Rejected, *r.reject)
			continue
		}
		accepted = append(accepted, database.NewEmbedding{Vector: r.vector, Quality: r.quality, Source: p.opts.Source})
		report.Qualities = append(report.Qualities, r.quality)
	}
	report.Accepted = len(accepted)

	if len(accepted) == 0 {
		p.log.Warn("enrollment rejected every sample", "identity_id", identityID, "processed", report.Processed)
		return report, ErrNoAcceptedSamples
	}

	ids, err := p.store.ReplaceAll(ctx, identityID, accepted)
	if err != nil {
		return report, fmt.Errorf("replacing embeddings of identity %d: %w", identityID, err)
	}
	report.EmbeddingIDs = ids

	p.log.Info("identity enrolled",
		"identity_id", identityID,
		"processed", report.Processed,
		"accepted", report.Accepted,
		"rejected", len(report.Rejected),
	)
	return report, nil
}

func (p *Pipeline) score(ctx context.Context, idx int, s Sample) scored {
	vector := s.Vector
	if len(vector) == 0 {
		if p.embedder == nil || s.Face == nil {
			return scored{reject: &Rejection{Index: idx, Label: s.Label, Reason: ReasonNoEmbedding, Detail: "no face image"}}
		}
		v, err := p.embedder.Embed(ctx, s.Face)
		if err != nil {
			p.log.Debug("sample has no embedding", "sample", idx, "error", err)
			return scored{reject: &Rejection{Index: idx, Label: s.Label, Reason: ReasonNoEmbedding, Detail: err.Error()}}
		}
		if len(v) == 0 {
			return scored{reject: &Rejection{Index: idx, Label: s.Label, Reason: ReasonNoEmbedding, Detail: "empty embedding"}}
		}
		vector = v
	}

	quality := p.opts.Weights.Quality(s.Box, s.FrameWidth, s.FrameHeight)
	if quality < p.opts.MinQuality {
		return scored{reject: &Rejection{Index: idx, Label: s.Label, Reason: ReasonBelowThreshold, Quality: quality}}
	}
	return scored{vector: vector, quality: quality}
}

// Job is one identity's enrollment request for EnrollMany.
type Job struct {
	IdentityID int64
	Samples    []Sample
}

// Result pairs a job with its outcome.
type Result struct {
	IdentityID int64
	Report     *Report
	Err        error
}

// EnrollMany runs independent enrollments with at most workers in flight.
// Each identity's failure is reported in its Result and does not stop the others.
func (p *Pipeline) EnrollMany(ctx context.Context, jobs []Job, workers int, onDone func(Result)) []Result {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			report, err := p.Enroll(ctx, job.IdentityID, job.Samples)
			results[i] = Result{IdentityID: job.IdentityID, Report: report, Err: err}
			if onDone != nil {
				onDone(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}
