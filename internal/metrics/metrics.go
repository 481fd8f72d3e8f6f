// internal/metrics/metrics.go

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all chatkit collectors, kept separate from the default
// registry so embedding applications can mount it where they want.
var Registry = prometheus.NewRegistry()

var (
	Reconnects = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "chatkit_reconnects_total",
		Help: "Number of times the socket session was re-established after a drop.",
	})

	MessagesSent = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "chatkit_messages_sent_total",
		Help: "Messages emitted over the socket, counted at optimistic insert.",
	})

	MessagesConfirmed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "chatkit_messages_confirmed_total",
		Help: "Provisional messages reconciled against a server echo.",
	})

	SendsFailed = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Name: "chatkit_sends_failed_total",
		Help: "Sends that were rolled back or timed out waiting for confirmation.",
	})

	MentionLookups = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "chatkit_mention_lookups_total",
		Help: "Mention resolutions by result.",
	}, []string{"result"})

	JoinedChannels = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Name: "chatkit_joined_channels",
		Help: "Channels the session currently intends to receive events for.",
	})
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
}

// Handler exposes the chatkit registry for a debug listener.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
