package metrics

import (
	"fmt"
	"io"
)

// PrometheusExporter exports collector counters in Prometheus text format
type PrometheusExporter struct {
	collector *Collector
	namespace string
}

// NewPrometheusExporter creates a new exporter over collector
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		namespace: "shardkv",
	}
}

// WriteMetrics writes all metrics in Prometheus text format to w
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (pe *PrometheusExporter) WriteMetrics(w io.Writer) error {
	s := pe.collector.Snapshot()

	if err := pe.writeGauge(w, "uptime_seconds", "Node uptime in seconds", s.Uptime.Seconds()); err != nil {
		return err
	}

	counters := []struct {
		name, help string
		value      uint64
	}{
		{"entity_gets_total", "Total external GET requests", s.Gets},
		{"entity_gets_failed_total", "External GET requests that failed", s.GetsFailed},
		{"entity_puts_total", "Total external PUT requests", s.Puts},
		{"entity_puts_failed_total", "External PUT requests that failed", s.PutsFailed},
		{"entity_deletes_total", "Total external DELETE requests", s.Deletes},
		{"entity_deletes_failed_total", "External DELETE requests that failed", s.DeletesFailed},
		{"quorum_failures_total", "Requests that missed their quorum", s.QuorumFailures},
		{"replica_errors_total", "Failed replica attempts", s.ReplicaErrors},
		{"flushes_total", "Memtable flushes", s.Flushes},
		{"compactions_total", "Completed compactions", s.Compactions},
	}
	for _, c := range counters {
		if err := pe.writeCounter(w, c.name, c.help, c.value); err != nil {
			return err
		}
	}
	return nil
}

func (pe *PrometheusExporter) writeCounter(w io.Writer, name, help string, value uint64) error {
	full := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", full, help, full, full, value)
	return err
}

func (pe *PrometheusExporter) writeGauge(w io.Writer, name, help string, value float64) error {
	full := pe.namespace + "_" + name
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %f\n", full, help, full, full, value)
	return err
}
