package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexusd",
		Subsystem: "registry",
		Name:      "loads_total",
		Help:      "Total number of successful model loads",
	})

	loadsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexusd",
		Subsystem: "registry",
		Name:      "loads_failed_total",
		Help:      "Total number of failed model loads",
	})

	unloadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nexusd",
		Subsystem: "registry",
		Name:      "unloads_total",
		Help:      "Total number of model unloads",
	})

	instancesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nexusd",
		Subsystem: "registry",
		Name:      "ready_instances",
		Help:      "Model instances currently in ready state",
	})
)

func init() {
	prometheus.MustRegister(loadsTotal, loadsFailedTotal, unloadsTotal, instancesGauge)
}
