// Package metrics defines the Prometheus collectors of the PICARD server.
// Every constructor registers on the registerer it is given, so tests can
// use a fresh prometheus.NewRegistry per case.
package metrics

import (
	"net/http"

	"github.com/JannisRoesner/PICARD-sub000/internal/platform/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "picard"

// NewRegistry returns a registry carrying the runtime collectors and a
// constant picard_build_info gauge labelled with the running build.
func NewRegistry() *prometheus.Registry {
	info := version.Get()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "build_info",
			Help:        "Always 1; labels describe the running build.",
			ConstLabels: prometheus.Labels{"version": info.Version, "commit": info.Commit, "go_version": info.GoVersion},
		}, func() float64 { return 1 }),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format. Collection errors
// are logged by the handler and the remaining metrics are still served.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          reg,
		EnableOpenMetrics: true,
	})
}
