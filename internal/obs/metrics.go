package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Transactions           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cellmux_at_transactions_total", Help: "AT transactions by outcome"}, []string{"outcome"})
	Notifications          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cellmux_notifications_total", Help: "Unsolicited notifications dispatched by kind"}, []string{"kind"})
	MalformedNotifications = promauto.NewCounter(prometheus.CounterOpts{Name: "cellmux_malformed_notifications_total", Help: "Notifications with out of range fields"})
	ModuleResets           = promauto.NewCounter(prometheus.CounterOpts{Name: "cellmux_module_resets_total", Help: "Unexpected modem restarts detected mid-session"})
	OpenFailures           = promauto.NewCounterVec(prometheus.CounterOpts{Name: "cellmux_open_failures_total", Help: "Rejected socket opens by modem result"}, []string{"reason"})
	BytesSent              = promauto.NewCounter(prometheus.CounterOpts{Name: "cellmux_bytes_sent_total", Help: "Payload bytes acknowledged by the modem"})
	BytesReceived          = promauto.NewCounter(prometheus.CounterOpts{Name: "cellmux_bytes_received_total", Help: "Payload bytes read from the modem"})
	ShortReads             = promauto.NewCounter(prometheus.CounterOpts{Name: "cellmux_short_reads_total", Help: "Receives that delivered fewer bytes than confirmed"})
	LockContention         = promauto.NewCounter(prometheus.CounterOpts{Name: "cellmux_lock_contention_total", Help: "Channel lock acquisitions that had to wait"})
	ConnectedSockets       = promauto.NewGauge(prometheus.GaugeOpts{Name: "cellmux_connected_sockets", Help: "Sockets reported connected by the last state poll"})
	MaintenanceDuration    = promauto.NewHistogram(prometheus.HistogramOpts{Name: "cellmux_maintenance_duration_seconds", Help: "Duration of maintenance passes", Buckets: prometheus.ExponentialBuckets(0.001, 2, 14)})
)
