package utils

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCallsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_active_calls",
		Help: "Number of calls currently in a non-terminal state",
	})

	CallEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_call_events_total",
		Help: "Call lifecycle events processed, by outcome",
	}, []string{"event", "result"})

	SignalsRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_signals_relayed_total",
		Help: "WebRTC signaling payloads relayed, by kind",
	}, []string{"kind"})

	ReapedCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_reaped_calls_total",
		Help: "Calls force-failed by the stale-call reaper, by cause",
	}, []string{"cause"})

	ConnectedClientsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connected_clients",
		Help: "Live WebSocket connections registered in the presence registry",
	})
)
