package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carehub_realtime_connections",
		Help: "このインスタンスが保持しているWebSocket接続数",
	})
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carehub_realtime_events_delivered_total",
		Help: "ローカル接続へ配送したイベント数",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carehub_realtime_events_dropped_total",
		Help: "送信バッファが満杯のため破棄したイベント数",
	})
	handshakeFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carehub_realtime_handshake_failures_total",
		Help: "認証に失敗したハンドシェイク数",
	}, []string{"reason"})
)
