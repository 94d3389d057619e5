package metrics

import "github.com/prometheus/client_golang/prometheus"

// collectorSet implements prometheus.Collector over a fixed list of
// collectors so each metrics group registers as a single unit.
type collectorSet []prometheus.Collector

func (cs collectorSet) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range cs {
		c.Describe(ch)
	}
}

func (cs collectorSet) Collect(ch chan<- prometheus.Metric) {
	for _, c := range cs {
		c.Collect(ch)
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
