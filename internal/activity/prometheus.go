package activity

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusTracker exposes the ActivityTracker callbacks as counters (bytes,
// requests, and responses by status code), wiring the teacher's github.com/prometheus/client_golang
// dependency into the observability path.
type PrometheusTracker struct {
	bytesFromClient  prometheus.Counter
	bytesFromServer  prometheus.Counter
	requestsReceived prometheus.Counter
	requestsSent     prometheus.Counter
	responsesByCode  *prometheus.CounterVec
}

func NewPrometheusTracker(reg prometheus.Registerer) *PrometheusTracker {
	t := &PrometheusTracker{
		bytesFromClient: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayproxy_bytes_from_client_total",
			Help: "Total bytes read from client connections.",
		}),
		bytesFromServer: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayproxy_bytes_from_server_total",
			Help: "Total bytes read from server connections.",
		}),
		requestsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayproxy_requests_received_total",
			Help: "Total requests received from clients.",
		}),
		requestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relayproxy_requests_sent_total",
			Help: "Total requests sent to servers, counting fallback retries.",
		}),
		responsesByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relayproxy_responses_total",
			Help: "Total responses received from servers, by status code.",
		}, []string{"code"}),
	}
	if reg != nil {
		reg.MustRegister(t.bytesFromClient, t.bytesFromServer, t.requestsReceived, t.requestsSent, t.responsesByCode)
	}
	return t
}

func (t *PrometheusTracker) BytesReceivedFromClient(_ FlowContext, n int) {
	t.bytesFromClient.Add(float64(n))
}

func (t *PrometheusTracker) RequestReceivedFromClient(_ FlowContext, _ *http.Request) {
	t.requestsReceived.Inc()
}

func (t *PrometheusTracker) RequestSent(_ FlowContext, _ *http.Request) {
	t.requestsSent.Inc()
}

func (t *PrometheusTracker) BytesReceivedFromServer(_ FlowContext, n int) {
	t.bytesFromServer.Add(float64(n))
}

func (t *PrometheusTracker) ResponseReceived(_ FlowContext, resp *http.Response) {
	t.responsesByCode.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
}
