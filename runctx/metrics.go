package runctx

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "bzlrel"

// Metrics counts backend operations per module.
type Metrics struct {
	// GitCommands counts git invocations by subcommand.
	GitCommands *prometheus.CounterVec

	// Fetches counts fetches that reached a remote or a relay directory, by module.
	Fetches *prometheus.CounterVec

	// Pushes counts pushes, by module.
	Pushes *prometheus.CounterVec

	// Clones counts fresh workspace directory clones, by module.
	Clones *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GitCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "git_commands_total",
			Help:      "Number of git commands executed.",
		}, []string{"subcommand"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetches_total",
			Help:      "Number of fetches performed.",
		}, []string{"module"}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pushes_total",
			Help:      "Number of pushes performed.",
		}, []string{"module"}),
		Clones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "clones_total",
			Help:      "Number of workspace directories cloned.",
		}, []string{"module"}),
	}
	if reg != nil {
		reg.MustRegister(m.GitCommands, m.Fetches, m.Pushes, m.Clones)
	}
	return m
}
