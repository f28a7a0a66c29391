package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ComponentUp exports each component's health as a 0/1 gauge.
var ComponentUp = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "vigil_component_up",
		Help: "Whether a component is healthy (1) or not (0)",
	},
	[]string{"component"},
)

func init() {
	prometheus.MustRegister(ComponentUp)
}

// ComponentHealth is the last reported state of one component.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

var componentsMu sync.RWMutex
var components = make(map[string]ComponentHealth)

// UpdateComponent records a component's health. Components report here
// from their lifecycle paths; the admin readiness probe and the
// vigil_component_up gauge read it back.
func UpdateComponent(name string, healthy bool, message string) {
	componentsMu.Lock()
	components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
	componentsMu.Unlock()

	v := 0.0
	if healthy {
		v = 1.0
	}
	ComponentUp.WithLabelValues(name).Set(v)
}

// Components returns a snapshot of every reported component.
func Components() map[string]ComponentHealth {
	componentsMu.RLock()
	defer componentsMu.RUnlock()
	out := make(map[string]ComponentHealth, len(components))
	for name, c := range components {
		out[name] = c
	}
	return out
}
