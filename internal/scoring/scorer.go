// Package scoring wraps the frozen anomaly-scoring artifact behind an
// injectable capability. The artifact is trained offline and consumed here
// as an opaque vector-to-score function plus a decision threshold.
package scoring

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Scorer classifies an enriched feature map. Implementations must never
// fail: any internal problem degrades to a "not anomalous" verdict.
type Scorer interface {
	Predict(features map[string]float64) bool
}

type disabled struct{}

func (disabled) Predict(map[string]float64) bool { return false }

// Disabled returns a scorer that classifies nothing as anomalous. It is
// the fallback when no artifact is available.
func Disabled() Scorer {
	return disabled{}
}

// Artifact is the frozen model bundle: feature order, fitted scaling
// parameters, fitted linear decision function, and the score threshold
// below which a sample is classified anomalous.
type Artifact struct {
	Features []string `json:"features"`
	Scaler   struct {
		Center []float64 `json:"center"`
		Scale  []float64 `json:"scale"`
	} `json:"scaler"`
	Model struct {
		Weights   []float64 `json:"weights"`
		Intercept float64   `json:"intercept"`
	} `json:"model"`
	Threshold float64 `json:"threshold"`
}

func (a Artifact) validate() error {
	n := len(a.Features)
	if n == 0 {
		return fmt.Errorf("artifact declares no features")
	}
	if len(a.Scaler.Center) != n || len(a.Scaler.Scale) != n {
		return fmt.Errorf("scaler dimensions do not match %d features", n)
	}
	if len(a.Model.Weights) != n {
		return fmt.Errorf("model dimensions do not match %d features", n)
	}
	return nil
}

// ArtifactScorer scores samples against a loaded artifact. The artifact is
// immutable after load and safe to share across sessions.
type ArtifactScorer struct {
	artifact Artifact
}

// NewArtifactScorer wraps a validated artifact.
func NewArtifactScorer(artifact Artifact) (*ArtifactScorer, error) {
	if err := artifact.validate(); err != nil {
		return nil, err
	}
	return &ArtifactScorer{artifact: artifact}, nil
}

// Predict assembles the vector in the artifact's feature order (missing
// fields coerced to zero), applies the scaling transform, and compares the
// decision score against the threshold. Higher scores mean more normal.
func (s *ArtifactScorer) Predict(features map[string]float64) bool {
	a := s.artifact
	score := a.Model.Intercept
	for i, name := range a.Features {
		x := features[name]
		scale := a.Scaler.Scale[i]
		if scale == 0 {
			scale = 1
		}
		score += a.Model.Weights[i] * ((x - a.Scaler.Center[i]) / scale)
	}
	return score < a.Threshold
}

// Load reads the artifact file at path. An absent or unreadable artifact
// is a recoverable condition: scoring is disabled, logged once here, and
// never surfaced per message.
func Load(path string, logger zerolog.Logger) Scorer {
	log := logger.With().Str("component", "scoring").Logger()
	if path == "" {
		log.Info().Msg("no scoring artifact configured; rule-based only")
		return Disabled()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("scoring artifact not loaded; rule-based only")
		return Disabled()
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("scoring artifact malformed; rule-based only")
		return Disabled()
	}

	scorer, err := NewArtifactScorer(artifact)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("scoring artifact rejected; rule-based only")
		return Disabled()
	}

	log.Info().Str("path", path).Int("features", len(artifact.Features)).Msg("scoring artifact loaded")
	return scorer
}

var _ Scorer = (*ArtifactScorer)(nil)
