package chat

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/wirehub/chatd/internal/metrics"
	"github.com/wirehub/chatd/pkg/protocol"
)

// DeliveryError records a failed delivery to a single recipient.
type DeliveryError struct {
	ClientID string
	Err      error
}

// DeliveryReport summarizes one broadcast. A failed send to one recipient
// never fails the broadcast as a whole.
type DeliveryReport struct {
	Recipients int
	Failures   []DeliveryError
}

// Router fans a message out to every active registry member. Chat messages
// skip the originating sender unless echo-to-sender is enabled; join and
// leave notices go to everyone.
type Router struct {
	registry     *Registry
	framing      protocol.Framing
	echoToSender bool
	logger       zerolog.Logger
	metrics      *metrics.Metrics
}

// NewRouter creates a router over the given registry and framing.
func NewRouter(reg *Registry, framing protocol.Framing, echoToSender bool, logger zerolog.Logger, m *metrics.Metrics) *Router {
	return &Router{
		registry:     reg,
		framing:      framing,
		echoToSender: echoToSender,
		logger:       logger,
		metrics:      m,
	}
}

// Route encodes m once and delivers it to all eligible recipients. Slow or
// closed recipients are recorded in the report and evicted; delivery to the
// remaining recipients proceeds. Delivery order across recipients is
// unspecified, but each recipient's own queue preserves send order.
func (r *Router) Route(m *protocol.Message) DeliveryReport {
	var report DeliveryReport

	data, err := r.framing.Append(nil, m)
	if err != nil {
		if !errors.Is(err, protocol.ErrUnsupportedKind) {
			r.logger.Error().Err(err).Stringer("kind", m.Kind).Msg("encode for broadcast failed")
		}
		return report
	}

	for _, c := range r.registry.Snapshot() {
		if c.State() != StateActive {
			continue
		}
		if m.Kind == protocol.KindChat && !r.echoToSender && c.ID == m.SenderID {
			continue
		}
		if err := c.Send(data); err != nil {
			report.Failures = append(report.Failures, DeliveryError{ClientID: c.ID, Err: err})
			r.logger.Warn().
				Str("client_id", c.ID).
				Str("name", c.Name()).
				Err(err).
				Msg("evicting slow consumer")
			r.metrics.RecordEviction("slow-consumer")
			c.Close()
			continue
		}
		report.Recipients++
	}

	r.metrics.RecordRoute(m.Kind.String(), report.Recipients, len(report.Failures))
	return report
}
