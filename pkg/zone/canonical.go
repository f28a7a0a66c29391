package zone

import (
	"encoding/json"
	"sort"

	"github.com/cordonsec/vigil/pkg/types"
)

// canonicalZone is the comparison form of a zone: member order and rule
// order normalized, timestamps excluded. Struct field order fixes the JSON
// field order, so equal content always serializes to equal bytes.
type canonicalZone struct {
	ID     string          `json:"id"`
	Nodes  []string        `json:"nodes"`
	Rules  []canonicalRule `json:"rules"`
	Policy canonicalPolicy `json:"policy"`
}

type canonicalRule struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Conditions []string `json:"conditions"`
	Actions    []string `json:"actions"`
}

type canonicalPolicy struct {
	MinConfidence      float64  `json:"minConfidence"`
	ConsensusThreshold float64  `json:"consensusThreshold"`
	TimeWindowMs       int64    `json:"timeWindowMs"`
	CorrelationRules   []string `json:"correlationRules"`
}

// CanonicalKey returns a stable serialization of a zone's content, used to
// compare replicas across nodes. Two zones with the same members, rules,
// and policy produce the same key regardless of field ordering or replica
// timestamps.
func CanonicalKey(z *types.DetectionZone) string {
	nodes := append([]string(nil), z.Nodes...)
	sort.Strings(nodes)

	rules := make([]canonicalRule, len(z.Rules))
	for i, r := range z.Rules {
		actions := make([]string, len(r.Actions))
		for j, a := range r.Actions {
			actions[j] = string(a)
		}
		rules[i] = canonicalRule{
			ID:         r.ID,
			Type:       r.Type,
			Severity:   string(r.Severity),
			Conditions: append([]string(nil), r.Conditions...),
			Actions:    actions,
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	key, err := json.Marshal(canonicalZone{
		ID:    z.ID,
		Nodes: nodes,
		Rules: rules,
		Policy: canonicalPolicy{
			MinConfidence:      z.AlertPolicy.MinConfidence,
			ConsensusThreshold: z.AlertPolicy.ConsensusThreshold,
			TimeWindowMs:       z.AlertPolicy.TimeWindow.Milliseconds(),
			CorrelationRules:   append([]string(nil), z.AlertPolicy.CorrelationRules...),
		},
	})
	if err != nil {
		// Marshaling plain strings and numbers cannot fail; treat it as
		// an unmatchable key if it somehow does.
		return "unserializable:" + z.ID
	}
	return string(key)
}
