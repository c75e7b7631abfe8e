package ingress

import (
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/softmech/journeyprobe/internal/correlation"
	"github.com/softmech/journeyprobe/internal/domain/probe"
)

const maxBodyBytes = 1 << 20

// ackBody is the acknowledgment the platform expects on every delivery,
// including deliveries we could not parse. Anything else makes the platform
// treat the webhook as failed and redeliver.
const ackBody = `{"status":"received"}`

var (
	mReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingress_payloads_received_total", Help: "Webhook payloads received",
	})
	mParseFail = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingress_parse_failures_total", Help: "Malformed webhook payloads",
	})
	mMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingress_matched_total", Help: "Payloads matched to a pending expectation",
	})
	mUnmatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ingress_unmatched_total", Help: "Payloads with no pending expectation",
	})
)

// ParseFailures counts malformed inbound payloads as an alertable health
// category independent of any run.
type ParseFailures interface {
	ParseFailure()
}

// Adapter turns raw webhook traffic into normalized inbound events and feeds
// them to the correlation store. It never fails a delivery: malformed bodies
// are logged, counted and acknowledged.
type Adapter struct {
	log    *zap.Logger
	store  *correlation.Store
	health ParseFailures
	clock  probe.Clock
}

func NewAdapter(log *zap.Logger, store *correlation.Store, health ParseFailures, clock probe.Clock) *Adapter {
	if clock == nil {
		clock = probe.SystemClock{}
	}
	return &Adapter{log: log, store: store, health: health, clock: clock}
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mReceived.Inc()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.parseFailure("read body", err, nil)
		a.ack(w)
		return
	}

	ev, ok := a.normalize(body)
	if !ok {
		a.ack(w)
		return
	}

	key := correlation.KeyFor(ev.Recipient)
	if _, matched := a.store.Resolve(key, ev); matched {
		mMatched.Inc()
		a.log.Debug("inbound matched",
			zap.String("key", key),
			zap.String("message_id", ev.MessageID),
		)
	} else {
		mUnmatched.Inc()
		a.log.Debug("inbound without pending expectation; dropped",
			zap.String("key", key),
			zap.String("message_id", ev.MessageID),
		)
	}
	a.ack(w)
}

func (a *Adapter) normalize(body []byte) (*probe.InboundEvent, bool) {
	if !gjson.ValidBytes(body) {
		a.parseFailure("invalid json", nil, body)
		return nil, false
	}
	recipient := gjson.GetBytes(body, "recipient")
	if !recipient.Exists() || recipient.String() == "" {
		a.parseFailure("missing recipient", nil, body)
		return nil, false
	}
	return &probe.InboundEvent{
		ReceivedAt: a.clock.Now(),
		Recipient:  recipient.String(),
		MessageID:  gjson.GetBytes(body, "message.id").String(),
		Body:       body,
	}, true
}

func (a *Adapter) parseFailure(what string, err error, body []byte) {
	mParseFail.Inc()
	if a.health != nil {
		a.health.ParseFailure()
	}
	a.log.Warn("inbound parse failure",
		zap.String("what", what),
		zap.Int("body_len", len(body)),
		zap.Error(err),
	)
}

func (a *Adapter) ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(ackBody))
}
