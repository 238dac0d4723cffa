package runtime

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// metrics instruments the engine on a private registry. There is no
// listener: counters are flushed to logs/metrics.prom in text exposition
// format when the engine shuts down, so scraping stays a filesystem
// concern like everything else here.
type metrics struct {
	registry *prometheus.Registry

	steps   *prometheus.CounterVec
	retries prometheus.Counter
	tamper  prometheus.Counter
	fatals  prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &metrics{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "steps_total",
			Help:      "Steps executed, by terminal status.",
		}, []string{"status"}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "retries_total",
			Help:      "Crash-recovery retries counted by the circuit breaker.",
		}),
		tamper: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "tamper_detections_total",
			Help:      "Integrity mismatches detected on load.",
		}),
		fatals: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "weft",
			Name:      "fatal_trips_total",
			Help:      "Circuit breaker trips marking a task fatal.",
		}),
	}
}

// write dumps the registry in text exposition format.
func (m *metrics) write(path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, fam := range families {
		if err := enc.Encode(fam); err != nil {
			return fmt.Errorf("encode metric family: %w", err)
		}
	}
	return nil
}
