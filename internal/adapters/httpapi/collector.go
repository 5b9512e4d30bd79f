package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SepehrImanian/ndsol/internal/domain"
)

const namespace = "ndsol"

var (
	queriesSentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queries_sent_total"),
		"Neighbour solicitations sent.", nil, nil,
	)
	queriesSuppressedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "queries_suppressed_total"),
		"Solicitations withheld by the retransmit policy or rate limit.", nil, nil,
	)
	packetsKilledDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "packets_killed_total"),
		"Queued packets dropped by replacement or expiry.", nil, nil,
	)
	decodeErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "decode_errors_total"),
		"Inbound frames that failed to decode.", nil, nil,
	)
	forwardedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "packets_forwarded_total"),
		"Packets sent with a resolved link address.", nil, nil,
	)
	advertisementsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "advertisements_sent_total"),
		"Advertisements sent for our own address.", nil, nil,
	)
	entriesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "cache_entries"),
		"Neighbour cache entries by state.", []string{"state"}, nil,
	)
)

// collector exports resolver counters at scrape time.
type collector struct {
	src Source
}

var _ prometheus.Collector = (*collector)(nil)

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queriesSentDesc
	ch <- queriesSuppressedDesc
	ch <- packetsKilledDesc
	ch <- decodeErrorsDesc
	ch <- forwardedDesc
	ch <- advertisementsDesc
	ch <- entriesDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(queriesSentDesc, prometheus.CounterValue, float64(s.QueriesSent))
	ch <- prometheus.MustNewConstMetric(queriesSuppressedDesc, prometheus.CounterValue, float64(s.QueriesSuppressed))
	ch <- prometheus.MustNewConstMetric(packetsKilledDesc, prometheus.CounterValue, float64(s.PacketsKilled))
	ch <- prometheus.MustNewConstMetric(decodeErrorsDesc, prometheus.CounterValue, float64(s.DecodeErrors))
	ch <- prometheus.MustNewConstMetric(forwardedDesc, prometheus.CounterValue, float64(s.Forwarded))
	ch <- prometheus.MustNewConstMetric(advertisementsDesc, prometheus.CounterValue, float64(s.AdvertisementsSent))

	byState := map[domain.State]int{}
	for _, e := range c.src.Table() {
		byState[e.State]++
	}
	for _, state := range []domain.State{domain.StatePending, domain.StateResolved} {
		ch <- prometheus.MustNewConstMetric(entriesDesc, prometheus.GaugeValue, float64(byState[state]), state.String())
	}
}
