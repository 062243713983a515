package observe

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	onlineConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "im_online_connections",
		Help: "Number of live connections on this node",
	})

	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_messages_total",
			Help: "Total p2p messages by result",
		},
		[]string{"result"}, // success|failed|denied|replayed|duplicate
	)

	forcedLogoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_forced_logouts_total",
		Help: "Connections kicked by multi-login policy",
	})

	offlineEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_offline_enqueued_total",
		Help: "Messages written to the offline backlog",
	})

	offlineEvictedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_offline_evicted_total",
		Help: "Backlog entries evicted past the configured cap",
	})

	recallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_recalls_total",
			Help: "Recall requests by outcome",
		},
		[]string{"outcome"}, // success|timeout|not_found|already|error
	)

	routerDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_router_dropped_total",
		Help: "Commands dropped for unknown category",
	})

	workerOverflowTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_worker_overflow_total",
		Help: "Pipeline tasks executed on the submitting goroutine due to full queue",
	})

	brokerPoisonTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_broker_poison_total",
		Help: "Broker messages dropped after an unrecoverable consume failure",
	})

	storeErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_store_errors_total",
		Help: "Durable store handoff failures (delivery continued)",
	})

	heartbeatsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "im_heartbeats_total",
		Help: "Total heartbeats received",
	})
)

func init() {
	prometheus.MustRegister(
		onlineConns,
		messagesTotal,
		forcedLogoutsTotal,
		offlineEnqueuedTotal,
		offlineEvictedTotal,
		recallsTotal,
		routerDroppedTotal,
		workerOverflowTotal,
		brokerPoisonTotal,
		storeErrorsTotal,
		heartbeatsTotal,
	)
}

func AddOnline(delta float64)      { onlineConns.Add(delta) }
func IncMessage(result string)     { messagesTotal.WithLabelValues(result).Inc() }
func IncForcedLogout()             { forcedLogoutsTotal.Inc() }
func IncOfflineEnqueued()          { offlineEnqueuedTotal.Inc() }
func AddOfflineEvicted(n float64)  { offlineEvictedTotal.Add(n) }
func IncRecall(outcome string)     { recallsTotal.WithLabelValues(outcome).Inc() }
func IncRouterDropped()            { routerDroppedTotal.Inc() }
func IncWorkerOverflow()           { workerOverflowTotal.Inc() }
func IncBrokerPoison()             { brokerPoisonTotal.Inc() }
func IncStoreError()               { storeErrorsTotal.Inc() }
func IncHeartbeat()                { heartbeatsTotal.Inc() }
