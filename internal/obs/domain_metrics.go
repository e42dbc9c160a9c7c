package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingResolutionTotal counts per-line rate resolution outcomes.
	PricingResolutionTotal *prometheus.CounterVec
	// QuoteCalculationTotal counts quote totals calculation outcomes.
	QuoteCalculationTotal *prometheus.CounterVec
	// QuoteCalculationLatency records quote calculation latency in milliseconds.
	QuoteCalculationLatency *prometheus.HistogramVec
	// RateCardCacheTotal counts rate card cache lookups by result.
	RateCardCacheTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingResolutionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_resolution_total",
			Help:      "Count of rate resolution outcomes per quote line.",
		}, []string{"source", "result"})
		QuoteCalculationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_calculation_total",
			Help:      "Count of quote totals calculations by outcome.",
		}, []string{"operation", "result"})
		QuoteCalculationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quote_calculation_duration_ms",
			Help:      "Latency for quote totals calculations in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"operation"})
		RateCardCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_card_cache_total",
			Help:      "Count of rate card cache lookups by result.",
		}, []string{"result"})

		mustRegisterCollector(reg, PricingResolutionTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingResolutionTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteCalculationTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				QuoteCalculationTotal = v
			}
		})
		mustRegisterCollector(reg, QuoteCalculationLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				QuoteCalculationLatency = v
			}
		})
		mustRegisterCollector(reg, RateCardCacheTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RateCardCacheTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
