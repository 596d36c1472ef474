package mint

import (
	"rewardmint/pkg/chain"

	"github.com/prometheus/client_golang/prometheus"
)

var mintOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "rewardmint_mint_outcomes_total",
	Help: "Mint attempts by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(mintOutcomes)
}

func observe(err error) {
	switch {
	case err == nil:
		mintOutcomes.WithLabelValues("success").Inc()
	case chain.KindOf(err) != "":
		mintOutcomes.WithLabelValues(string(chain.KindOf(err))).Inc()
	default:
		mintOutcomes.WithLabelValues("error").Inc()
	}
}
