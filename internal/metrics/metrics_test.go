package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.Settled("order", "completed")
	m.Settled("order", "completed")
	m.Settled("group", "")
	m.TicketsIssued(3)
	m.PaymentEvent("succeeded", "ok")
	m.Notification("failed")
	m.GroupIssuanceFailure()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 5)

	assert.Equal(t, 2.0, counterValue(mfs, "settlement_operations_total", map[string]string{"path": "order", "outcome": "completed"}))
	assert.Equal(t, 1.0, counterValue(mfs, "settlement_operations_total", map[string]string{"path": "group", "outcome": "unknown"}))
	assert.Equal(t, 3.0, counterValue(mfs, "tickets_issued_total", nil))
	assert.Equal(t, 1.0, counterValue(mfs, "group_participant_issuance_failures_total", nil))
}

func TestNilCollectorsAreNoops(t *testing.T) {
	var m *Collectors
	assert.Nil(t, New(nil))
	assert.NotPanics(t, func() {
		m.Settled("order", "completed")
		m.TicketsIssued(1)
		m.PaymentEvent("failed", "ok")
		m.Notification("sent")
		m.GroupIssuanceFailure()
	})
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return -1
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok {
			if v != p.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}
