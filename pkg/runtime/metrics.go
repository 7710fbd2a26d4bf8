package runtime

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortiblox/x1-commerce/internal/types"
)

const metricsNamespace = "commerce"

type metrics struct {
	transactions *prometheus.CounterVec
	instructions *prometheus.CounterVec
	computeUnits prometheus.Histogram
	invocations  *prometheus.CounterVec
}

// newMetrics registers runtime collectors on reg. A nil registerer yields
// collectors that are updated but never exported.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "transactions_total",
			Help:      "Executed transactions by outcome.",
		}, []string{"status"}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "instructions_total",
			Help:      "Top-level instructions by program and outcome.",
		}, []string{"program", "status"}),
		computeUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "compute_units",
			Help:      "Compute units consumed per transaction.",
			Buckets:   prometheus.ExponentialBuckets(1_000, 2, 11),
		}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runtime",
			Name:      "cross_program_invocations_total",
			Help:      "Cross-program invocations by callee.",
		}, []string{"program"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.transactions, m.instructions, m.computeUnits, m.invocations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(tx *Transaction, res *Result) {
	status := "success"
	if !res.Success {
		status = "failed"
	}
	m.transactions.WithLabelValues(status).Inc()
	m.computeUnits.Observe(float64(res.ComputeUnitsConsumed))

	for i, ix := range tx.Instructions {
		switch {
		case res.Success || i < res.FailedInstruction:
			m.instructions.WithLabelValues(ix.ProgramID.String(), "success").Inc()
		case i == res.FailedInstruction:
			m.instructions.WithLabelValues(ix.ProgramID.String(), "failed").Inc()
		}
	}
}

func (m *metrics) cpi(program types.Pubkey) {
	m.invocations.WithLabelValues(program.String()).Inc()
}
