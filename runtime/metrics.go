package runtime

import (
	"github.com/rcrowley/go-metrics"

	canistersim "github.com/wippyai/canister-sim"
)

// Metric names registered by a replica.
const (
	MetricMessages  = "messages"
	MetricReplies   = "replies"
	MetricRejects   = "rejects"
	MetricTraps     = "traps"
	MetricIngress   = "ingress"
	MetricCalls     = "calls"
	MetricExecution = "execution"
	MetricLanesBusy = "lanes.busy"
)

type replicaMetrics struct {
	messages  metrics.Counter
	replies   metrics.Counter
	rejects   metrics.Counter
	traps     metrics.Counter
	ingress   metrics.Counter
	calls     metrics.Counter
	execution metrics.Timer
	lanesBusy metrics.Counter
	busyGauge metrics.Gauge
}

func newReplicaMetrics(r metrics.Registry) *replicaMetrics {
	return &replicaMetrics{
		messages:  metrics.GetOrRegisterCounter(MetricMessages, r),
		replies:   metrics.GetOrRegisterCounter(MetricReplies, r),
		rejects:   metrics.GetOrRegisterCounter(MetricRejects, r),
		traps:     metrics.GetOrRegisterCounter(MetricTraps, r),
		ingress:   metrics.GetOrRegisterCounter(MetricIngress, r),
		calls:     metrics.GetOrRegisterCounter(MetricCalls, r),
		execution: metrics.GetOrRegisterTimer(MetricExecution, r),
		lanesBusy: metrics.NewCounter(),
		busyGauge: metrics.GetOrRegisterGauge(MetricLanesBusy, r),
	}
}

func (m *replicaMetrics) laneBusy(delta int64) {
	m.lanesBusy.Inc(delta)
	m.busyGauge.Update(m.lanesBusy.Count())
}

// resolved counts a call context's final outcome. Trapped steps are
// counted separately as they happen.
func (m *replicaMetrics) resolved(out canistersim.Outcome) {
	switch {
	case out.IsReply():
		m.replies.Inc(1)
	case out.IsReject():
		m.rejects.Inc(1)
	}
}
