package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"skyclaw/pkg/auth"
	"skyclaw/pkg/bus"
	"skyclaw/pkg/channel"
	"skyclaw/pkg/config"
	"skyclaw/pkg/metrics"
	"skyclaw/pkg/schema"
)

// Service is the gateway process: message intake, sprite wake, the per-user
// tool endpoint, the authenticated stream proxy, and channel delivery.
type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	mailbox   Mailbox
	streams   http.Handler
	signer    *auth.Signer
	lanes     *LaneQueue
	waker     *Waker
	responses *ResponseStore
	tools     *ToolServer
	metrics   *metrics.Metrics
	bus       *bus.MessageBus
	channels  []channel.Adapter

	mu        sync.RWMutex
	startedAt time.Time
}

// ServiceOptions carries the collaborators NewService wires together.
// Waker may be nil when no control-plane token is configured; intake then
// skips activation but still records messages.
type ServiceOptions struct {
	Mailbox  Mailbox
	Streams  http.Handler
	Waker    *Waker
	Adapters []channel.Adapter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewService builds the gateway over an already-constructed mailbox client
// and embedded stream handler.
func NewService(cfg *config.Config, opts ServiceOptions) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if opts.Mailbox == nil {
		return nil, errors.New("mailbox client is required")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	signer, err := auth.NewSigner(cfg.Gateway.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("initialize credential signer: %w", err)
	}

	responses := NewResponseStore()
	tools := NewToolServer(opts.Mailbox, responses, opts.Metrics, log)

	s := &Service{
		cfg:       cfg,
		log:       log.With("component", "gateway.service"),
		mailbox:   opts.Mailbox,
		streams:   opts.Streams,
		signer:    signer,
		lanes:     NewLaneQueue(),
		waker:     opts.Waker,
		responses: responses,
		tools:     tools,
		metrics:   opts.Metrics,
		bus:       bus.NewMessageBus(),
		channels:  opts.Adapters,
	}
	tools.SetResponseHook(s.routeResponse)
	return s, nil
}

// Handler builds the gateway HTTP surface.
func (s *Service) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/api/messages/send", s.handleSendMessage).Methods(http.MethodPost)
	router.HandleFunc("/api/responses/get", s.handleGetResponses).Methods(http.MethodGet)
	router.HandleFunc("/api/token/{userId}", s.handleToken).Methods(http.MethodGet)
	if s.metrics != nil {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	router.HandleFunc("/mcp/{userId}", s.withSpriteAuth(func(w http.ResponseWriter, r *http.Request, userID string) {
		s.tools.ServeUser(w, r, userID)
	})).Methods(http.MethodPost)

	router.PathPrefix("/ds/").HandlerFunc(s.withSpriteAuth(s.handleStreamProxy))

	return router
}

// Run serves the gateway HTTP surface, dispatches responses to channel
// adapters, and runs every adapter until the context is done.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	addr := s.cfg.Gateway.Host + ":" + strconv.Itoa(s.cfg.Gateway.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("Gateway listening", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("serve gateway: %w", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	go s.dispatchResponses(ctx)
	go observeBusEvents(ctx, s.bus, s.log)

	adapterErrors := make(chan error, len(s.channels)+1)
	for _, adapter := range s.channels {
		adapter := adapter
		go func() {
			err := adapter.Run(ctx, s.handleInbound)
			if err != nil && !errors.Is(err, context.Canceled) {
				adapterErrors <- fmt.Errorf("run %s channel: %w", adapter.Name(), err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.bus.Close()
		return nil
	case err := <-serverErrors:
		s.bus.Close()
		return err
	case err := <-adapterErrors:
		s.bus.Close()
		return err
	}
}

// handleInbound is the channel-adapter intake path.
func (s *Service) handleInbound(ctx context.Context, inbound bus.InboundMessage) error {
	chatID := inbound.ChatID
	var channelID *string
	if chatID != "" {
		channelID = &chatID
	}

	_, err := s.Intake(ctx, schema.EventParams{
		UserID:    inbound.SenderID,
		AuthorID:  inbound.SenderID,
		Content:   inbound.Content,
		Channel:   inbound.Channel,
		ChannelID: channelID,
	})
	return err
}

// Intake records one user message and queues a wake. The append is the only
// step that can fail; activation problems never block intake.
func (s *Service) Intake(ctx context.Context, params schema.EventParams) (schema.Event, error) {
	event := schema.NewMessageEvent(params)
	inbox := schema.UserInbox(event.UserID)

	if err := s.mailbox.EnsureStream(ctx, inbox); err != nil {
		s.log.Warn("Inbox ensure failed", "user_id", event.UserID, "error", err)
	}
	if err := s.mailbox.EnsureStream(ctx, schema.UserOutbox(event.UserID)); err != nil {
		s.log.Warn("Outbox ensure failed", "user_id", event.UserID, "error", err)
	}

	if err := s.mailbox.Append(ctx, inbox, event); err != nil {
		return schema.Event{}, fmt.Errorf("append inbox event: %w", err)
	}
	if s.metrics != nil {
		s.metrics.MessagesAppended.WithLabelValues("inbox").Inc()
	}
	s.bus.PublishEvent(ctx, bus.Event{
		Type:    bus.EventMessageReceived,
		Channel: event.Channel,
		UserID:  event.UserID,
		EventID: event.ID,
	})

	if s.lanes.Enqueue(event.UserID, DefaultLaneTTL) {
		s.queueWake(event.UserID)
	}

	return event, nil
}

func (s *Service) queueWake(userID string) {
	if s.waker == nil {
		s.log.Warn("No control plane configured, skipping wake", "user_id", userID)
		return
	}
	s.bus.PublishEvent(context.Background(), bus.Event{Type: bus.EventWakeRequested, UserID: userID})
	go s.waker.Wake(context.Background(), userID)
}

// routeResponse forwards a freshly appended response to channel delivery.
// The channel and chat come from the originating event when present.
func (s *Service) routeResponse(userID string, event schema.Event) {
	chatID := ""
	if event.ChannelID != nil {
		chatID = *event.ChannelID
	}
	s.bus.PublishOutbound(context.Background(), bus.OutboundMessage{
		Channel: event.Channel,
		UserID:  userID,
		ChatID:  chatID,
		Content: event.Content,
	})
}

// dispatchResponses feeds bus outbound messages to the matching adapter.
// Messages without a channel stay in the response buffer for HTTP pollers.
func (s *Service) dispatchResponses(ctx context.Context) {
	for {
		msg, ok := s.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}

		delivered := false
		for _, adapter := range s.channels {
			if msg.Channel != "" && adapter.Name() != msg.Channel {
				continue
			}
			if err := adapter.Deliver(ctx, msg); err != nil {
				s.log.Error("Response delivery failed", "channel", adapter.Name(), "user_id", msg.UserID, "error", err)
				s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventDeliveryFailed, Channel: adapter.Name(), UserID: msg.UserID, Error: err.Error()})
				continue
			}
			delivered = true
			if s.metrics != nil {
				s.metrics.ResponsesDrained.WithLabelValues("channel").Inc()
			}
			s.bus.PublishEvent(ctx, bus.Event{Type: bus.EventResponseDelivered, Channel: adapter.Name(), UserID: msg.UserID})
			break
		}

		if !delivered && msg.Channel != "" {
			s.log.Debug("No adapter for response channel", "channel", msg.Channel, "user_id", msg.UserID)
		}
	}
}

type sendMessageRequest struct {
	UserID    string `json:"userId"`
	Content   string `json:"content"`
	Channel   string `json:"channel"`
	ChannelID string `json:"channelId,omitempty"`
}

func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.UserID == "" || req.Content == "" {
		s.respondError(w, http.StatusBadRequest, "userId and content are required")
		return
	}

	var channelID *string
	if req.ChannelID != "" {
		channelID = &req.ChannelID
	}
	event, err := s.Intake(r.Context(), schema.EventParams{
		UserID:    req.UserID,
		AuthorID:  req.UserID,
		Content:   req.Content,
		Channel:   req.Channel,
		ChannelID: channelID,
	})
	if err != nil {
		s.log.Error("Message intake failed", "user_id", req.UserID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "message intake failed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "eventId": event.ID})
}

func (s *Service) handleGetResponses(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	events := s.responses.Drain(userID)
	if events == nil {
		events = []schema.Event{}
	}
	if s.metrics != nil && len(events) > 0 {
		s.metrics.ResponsesDrained.WithLabelValues("http").Add(float64(len(events)))
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"responses": events})
}

// handleToken mints a sprite credential for a user. Development helper; the
// waker provisions real sprites with the same signer.
func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	token, err := s.signer.CreateToken(userID, s.cfg.Gateway.PublicURL)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "token mint failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}
	s.mu.RUnlock()

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": uptime,
	})
}

// handleStreamProxy serves the embedded stream API under /ds/, restricted
// to the authenticated user's own streams.
func (s *Service) handleStreamProxy(w http.ResponseWriter, r *http.Request, userID string) {
	if s.streams == nil {
		s.respondError(w, http.StatusServiceUnavailable, "stream service unavailable")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/ds")
	allowed := "/v1/stream/user/" + userID + "/"
	if !strings.HasPrefix(path, allowed) {
		s.respondError(w, http.StatusForbidden, "stream access denied")
		return
	}

	proxied := r.Clone(r.Context())
	proxied.URL.Path = path
	proxied.RequestURI = ""
	s.streams.ServeHTTP(w, proxied)
}

// withSpriteAuth verifies the bearer credential and, when the route names a
// user, requires the claim to match.
func (s *Service) withSpriteAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		payload, err := s.signer.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if routeUser, ok := mux.Vars(r)["userId"]; ok && routeUser != payload.UserID {
			s.respondError(w, http.StatusForbidden, "token user mismatch")
			return
		}

		next(w, r, payload.UserID)
	}
}

func (s *Service) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

func (s *Service) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{"error": message})
}
