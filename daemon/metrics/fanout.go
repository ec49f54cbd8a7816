package metrics

import (
	"github.com/mcp-gateway/gateway/daemon/ai"
	"github.com/mcp-gateway/gateway/daemon/router"
)

// RouterFanout broadcasts dispatch observations to multiple router.MetricsSink
// implementations, so the binary can install both the Prometheus registry and
// the MQTT notifier on the same Router without either one being primary.
type RouterFanout []router.MetricsSink

func (f RouterFanout) ObserveDispatch(templateName string, strategy router.Strategy, success bool, latencyNS int64) {
	for _, sink := range f {
		if sink != nil {
			sink.ObserveDispatch(templateName, strategy, success, latencyNS)
		}
	}
}

// ChannelFanout is the ai.MetricsSink equivalent of RouterFanout.
type ChannelFanout []ai.MetricsSink

func (f ChannelFanout) ObserveLease(channelID string, class ai.ErrorClass, success bool) {
	for _, sink := range f {
		if sink != nil {
			sink.ObserveLease(channelID, class, success)
		}
	}
}
