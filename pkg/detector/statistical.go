package detector

import (
	"context"
	"math"
	"sync"

	"github.com/cordonsec/vigil/pkg/types"
)

const (
	defaultSigmaThreshold = 3.0
	defaultMinSamples     = 20
)

// ZScoreConfig configures the built-in statistical detector.
type ZScoreConfig struct {
	SigmaThreshold float64 // standard deviations before a value is an outlier
	MinSamples     int     // observations per series before scoring starts
}

func (c ZScoreConfig) withDefaults() ZScoreConfig {
	if c.SigmaThreshold <= 0 {
		c.SigmaThreshold = defaultSigmaThreshold
	}
	if c.MinSamples < 2 {
		c.MinSamples = defaultMinSamples
	}
	return c
}

// seriesProfile is a running mean/variance over one measurement series,
// maintained with Welford's algorithm.
type seriesProfile struct {
	count int
	mean  float64
	m2    float64
}

func (p *seriesProfile) observe(v float64) {
	p.count++
	delta := v - p.mean
	p.mean += delta / float64(p.count)
	p.m2 += delta * (v - p.mean)
}

func (p *seriesProfile) stddev() float64 {
	if p.count < 2 {
		return 0
	}
	return math.Sqrt(p.m2 / float64(p.count-1))
}

// ZScoreDetector is a self-contained LocalDetector that profiles every
// measurement series it sees and flags values whose z-score exceeds the
// sigma threshold. It stands in when no external scoring model is wired;
// anything implementing LocalDetector can replace it.
type ZScoreDetector struct {
	cfg ZScoreConfig

	mu       sync.Mutex
	profiles map[string]*seriesProfile // source + "/" + value name
}

// NewZScoreDetector creates a statistical detector with empty profiles.
func NewZScoreDetector(cfg ZScoreConfig) *ZScoreDetector {
	return &ZScoreDetector{
		cfg:      cfg.withDefaults(),
		profiles: make(map[string]*seriesProfile),
	}
}

// Detect scores one measurement set against the running profiles and then
// folds the values into them. A series is scored only once it has MinSamples
// observations and non-zero spread; the highest z-score across the set
// decides the outcome.
func (d *ZScoreDetector) Detect(_ context.Context, m types.Measurements) (*types.DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := &types.DetectionResult{
		ModelScores: make(map[string]float64, len(m.Values)),
	}

	var maxZ float64
	for name, v := range m.Values {
		key := m.Source + "/" + name
		p, ok := d.profiles[key]
		if !ok {
			p = &seriesProfile{}
			d.profiles[key] = p
		}

		if p.count >= d.cfg.MinSamples {
			if sd := p.stddev(); sd > 0 {
				z := math.Abs(v-p.mean) / sd
				result.ModelScores[name] = z
				if z > maxZ {
					maxZ = z
				}
			}
		}

		p.observe(v)
	}

	result.EnsembleScore = maxZ
	if maxZ >= d.cfg.SigmaThreshold {
		result.IsAnomaly = true
		result.Severity = severityForSigma(maxZ / d.cfg.SigmaThreshold)
		result.Confidence = math.Min(1, maxZ/(2*d.cfg.SigmaThreshold))
	}
	return result, nil
}

// severityForSigma maps how far past the threshold an outlier landed onto
// the rule severity scale. ratio is max z-score over the threshold, >= 1.
func severityForSigma(ratio float64) types.Severity {
	switch {
	case ratio >= 2:
		return types.SeverityHigh
	case ratio >= 1.5:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
