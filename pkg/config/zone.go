package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cordonsec/vigil/pkg/types"
)

// ZoneSpec is the YAML form of a detection zone accepted by
// `vigil zone apply -f`.
type ZoneSpec struct {
	ID          string     `yaml:"id"`
	Nodes       []string   `yaml:"nodes"`
	Rules       []RuleSpec `yaml:"rules"`
	AlertPolicy PolicySpec `yaml:"alertPolicy"`
}

// RuleSpec is the YAML form of a detection rule.
type RuleSpec struct {
	ID         string   `yaml:"id"`
	Type       string   `yaml:"type"`
	Severity   string   `yaml:"severity"`
	Conditions []string `yaml:"conditions"`
	Actions    []string `yaml:"actions"`
}

// PolicySpec is the YAML form of a zone alert policy.
type PolicySpec struct {
	MinConfidence      float64       `yaml:"minConfidence"`
	ConsensusThreshold float64       `yaml:"consensusThreshold"`
	TimeWindow         time.Duration `yaml:"timeWindow"`
	CorrelationRules   []string      `yaml:"correlationRules"`
}

// LoadZoneSpec parses a zone spec file.
func LoadZoneSpec(path string) (*ZoneSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone spec: %w", err)
	}
	var spec ZoneSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse zone spec: %w", err)
	}
	return &spec, nil
}

// ToZone converts the spec into the domain type. Structural validation
// (membership, thresholds) happens when the zone is submitted.
func (s *ZoneSpec) ToZone() *types.DetectionZone {
	zone := &types.DetectionZone{
		ID:    s.ID,
		Nodes: append([]string(nil), s.Nodes...),
		AlertPolicy: types.AlertPolicy{
			MinConfidence:      s.AlertPolicy.MinConfidence,
			ConsensusThreshold: s.AlertPolicy.ConsensusThreshold,
			TimeWindow:         s.AlertPolicy.TimeWindow,
			CorrelationRules:   append([]string(nil), s.AlertPolicy.CorrelationRules...),
		},
	}
	for _, r := range s.Rules {
		rule := types.DetectionRule{
			ID:         r.ID,
			Type:       r.Type,
			Severity:   types.Severity(r.Severity),
			Conditions: append([]string(nil), r.Conditions...),
		}
		for _, a := range r.Actions {
			rule.Actions = append(rule.Actions, types.RuleAction(a))
		}
		zone.Rules = append(zone.Rules, rule)
	}
	return zone
}
