package push

import (
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/hlog"

	"feedhub/internal/database"
	"feedhub/internal/models"
)

// maxNotificationBytes caps inbound notification bodies. Hubs may deliver
// the full feed document; anything larger is not a notification.
const maxNotificationBytes = 1 << 20

var (
	notificationsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_push_notifications_accepted_total",
		Help: "Hub notifications with a valid signature",
	})
	notificationsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_push_notifications_rejected_total",
		Help: "Hub notifications rejected for a bad or missing signature",
	})
)

// Handler serves the hub-facing callback endpoint: lease verification
// challenges on GET, signed notifications on POST.
type Handler struct {
	store        Store
	coalescer    *Coalescer
	trusted      []netip.Prefix
	maxLeaseSecs int
	now          func() time.Time
}

// NewHandler creates the callback handler. trusted lists proxy networks
// whose forwarded-for headers are honored when logging client addresses.
func NewHandler(store Store, coalescer *Coalescer, trusted []netip.Prefix) *Handler {
	return &Handler{
		store:        store,
		coalescer:    coalescer,
		trusted:      trusted,
		maxLeaseSecs: 10 * 86400,
		now:          time.Now,
	}
}

// Verify answers a hub's GET challenge for subscribe/unsubscribe intent.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	token := r.PathValue("token")
	sub, err := h.store.SubscriptionByToken(r.Context(), token)
	if errors.Is(err, database.ErrNotFound) {
		log.Warn().Str("remote", h.clientAddr(r)).Msg("Verification for unknown callback token")
		http.Error(w, "unknown callback", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load subscription")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	query := r.URL.Query()
	mode := query.Get("hub.mode")
	topic := query.Get("hub.topic")
	challenge := query.Get("hub.challenge")

	if challenge == "" || topic != sub.TopicURL {
		log.Warn().
			Str("mode", mode).
			Str("topic", topic).
			Int64("feed_id", sub.FeedID).
			Msg("Verification with mismatched topic or empty challenge")
		http.Error(w, "verification refused", http.StatusNotFound)
		return
	}

	now := h.now()

	switch mode {
	case "subscribe":
		leaseSecs, err := strconv.Atoi(query.Get("hub.lease_seconds"))
		if err != nil || leaseSecs <= 0 || leaseSecs > h.maxLeaseSecs {
			leaseSecs = 86400
		}
		lease := now.Add(time.Duration(leaseSecs) * time.Second)
		if err := h.store.UpdateSubscriptionState(r.Context(), sub.ID, models.PushStateActive, &lease, now); err != nil {
			log.Error().Err(err).Int64("feed_id", sub.FeedID).Msg("Failed to activate subscription")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		log.Info().
			Int64("feed_id", sub.FeedID).
			Time("lease_expires", lease).
			Msg("Push subscription confirmed")

	case "unsubscribe":
		if err := h.store.UpdateSubscriptionState(r.Context(), sub.ID, models.PushStateNone, nil, now); err != nil {
			log.Error().Err(err).Int64("feed_id", sub.FeedID).Msg("Failed to deactivate subscription")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		log.Info().Int64("feed_id", sub.FeedID).Msg("Push unsubscription confirmed")

	case "denied":
		// The hub refused the subscription; record it and accept the message.
		if err := h.store.UpdateSubscriptionState(r.Context(), sub.ID, models.PushStateNone, nil, now); err != nil {
			log.Error().Err(err).Int64("feed_id", sub.FeedID).Msg("Failed to record subscription denial")
		}
		log.Warn().Int64("feed_id", sub.FeedID).Str("reason", query.Get("hub.reason")).Msg("Push subscription denied by hub")
		w.WriteHeader(http.StatusOK)
		return

	default:
		http.Error(w, "unsupported hub.mode", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, challenge); err != nil {
		log.Error().Err(err).Msg("Failed to echo verification challenge")
	}
}

// Notify accepts a signed content notification and schedules an immediate
// refresh for the feed. The body itself is discarded; the next cycle
// re-fetches the feed through the normal pipeline.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	token := r.PathValue("token")
	sub, err := h.store.SubscriptionByToken(r.Context(), token)
	if errors.Is(err, database.ErrNotFound) {
		notificationsRejected.Inc()
		log.Warn().Str("remote", h.clientAddr(r)).Msg("Notification for unknown callback token")
		http.Error(w, "unknown callback", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to load subscription")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes+1))
	if err != nil || len(body) > maxNotificationBytes {
		notificationsRejected.Inc()
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature")
	}
	if !VerifySignature(signature, sub.Secret, body) {
		// Security-relevant: a peer that knows the callback token but not
		// the secret. The feed's due state is left untouched.
		notificationsRejected.Inc()
		log.Warn().
			Int64("feed_id", sub.FeedID).
			Str("remote", h.clientAddr(r)).
			Bool("signature_present", signature != "").
			Msg("Rejected push notification with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	notificationsAccepted.Inc()
	if h.coalescer.Mark(sub.FeedID) {
		log.Info().Int64("feed_id", sub.FeedID).Msg("Push notification accepted, refresh scheduled")
	} else {
		log.Debug().Int64("feed_id", sub.FeedID).Msg("Push notification coalesced with pending refresh")
	}

	w.WriteHeader(http.StatusAccepted)
}

// clientAddr resolves the notifying client's address, honoring
// X-Forwarded-For only when the direct peer is a trusted proxy.
func (h *Handler) clientAddr(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	host = strings.Trim(host, "[]")

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return r.RemoteAddr
	}

	trusted := false
	for _, prefix := range h.trusted {
		if prefix.Contains(addr) {
			trusted = true
			break
		}
	}
	if !trusted {
		return host
	}

	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded == "" {
		return host
	}
	first, _, _ := strings.Cut(forwarded, ",")
	return strings.TrimSpace(first)
}
