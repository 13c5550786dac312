package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"skyclaw/pkg/auth"
	"skyclaw/pkg/config"
	"skyclaw/pkg/metrics"
	"skyclaw/pkg/sprites"
)

// fallbackSpriteName is used when sanitizing leaves nothing usable.
const fallbackSpriteName = "skyclaw-user"

const maxSpriteNameLen = 63

var (
	invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)
	hyphenRuns       = regexp.MustCompile(`-+`)
)

// SpriteName derives the per-user sprite name from the configured prefix.
// The result is lowercase alphanumerics and hyphens, at most 63 characters,
// with no leading or trailing hyphen.
func SpriteName(prefix, userID string) string {
	name := strings.ToLower(prefix + userID)
	name = invalidNameChars.ReplaceAllString(name, "-")
	name = hyphenRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if len(name) > maxSpriteNameLen {
		name = name[:maxSpriteNameLen]
		name = strings.TrimRight(name, "-")
	}
	if name == "" {
		return fallbackSpriteName
	}
	return name
}

// ControlPlane is the subset of the sprite API the waker drives.
type ControlPlane interface {
	EnsureSprite(ctx context.Context, name string) (*sprites.Sprite, error)
	GetService(ctx context.Context, spriteName, serviceName string) (*sprites.Service, error)
	PutService(ctx context.Context, spriteName, serviceName string, input sprites.PutServiceInput) (*sprites.Service, error)
	StartService(ctx context.Context, spriteName, serviceName, duration string) ([]sprites.LogEvent, error)
	Exec(ctx context.Context, spriteName string, cmd []string, env map[string]string, dir string) (*sprites.ExecResult, error)
}

// Wake outcomes reported to callers and metrics.
const (
	WakeOutcomeStarted = metrics.WakeStarted
	WakeOutcomeSkipped = metrics.WakeSkipped
	WakeOutcomeFailed  = metrics.WakeFailed
)

// tokenTTLMargin forces a fresh credential well before the old one expires.
const tokenTTLMargin = time.Hour

type cachedToken struct {
	token   string
	expires time.Time
}

// Waker drives the sprite activation state machine. Wake is idempotent and
// never propagates control-plane failures to message intake; concurrent
// wakes for the same user collapse into one in-flight attempt.
type Waker struct {
	cp      ControlPlane
	signer  *auth.Signer
	cfg     config.SpritesConfig
	public  string
	log     *slog.Logger
	metrics *metrics.Metrics

	group     singleflight.Group
	lookupEnv func(string) string

	mu     sync.Mutex
	tokens map[string]cachedToken
}

// NewWaker wires a waker over a control plane and credential signer.
func NewWaker(cp ControlPlane, signer *auth.Signer, cfg config.SpritesConfig, gatewayURL string, m *metrics.Metrics, log *slog.Logger) *Waker {
	if log == nil {
		log = slog.Default()
	}
	return &Waker{
		cp:        cp,
		signer:    signer,
		cfg:       cfg,
		public:    gatewayURL,
		log:       log.With("component", "gateway.waker"),
		metrics:   m,
		lookupEnv: os.Getenv,
		tokens:    make(map[string]cachedToken),
	}
}

// Wake ensures the user's sprite exists, its handler service matches the
// desired definition, and the service is running. It returns the outcome
// label; failures are logged and absorbed.
func (w *Waker) Wake(ctx context.Context, userID string) string {
	result, _, _ := w.group.Do(userID, func() (any, error) {
		return w.wake(ctx, userID), nil
	})

	outcome, _ := result.(string)
	if w.metrics != nil {
		w.metrics.Wakes.WithLabelValues(outcome).Inc()
	}
	return outcome
}

func (w *Waker) wake(ctx context.Context, userID string) string {
	name := SpriteName(w.cfg.NamePrefix, userID)
	log := w.log.With("user_id", userID, "sprite", name)

	sprite, err := w.cp.EnsureSprite(ctx, name)
	if err != nil {
		log.Error("Sprite ensure failed", "error", err)
		return WakeOutcomeFailed
	}

	token, err := w.userToken(userID)
	if err != nil {
		log.Error("Credential mint failed", "error", err)
		return WakeOutcomeFailed
	}

	forwarded := w.forwardedEnv()
	if err := w.writeEnvFile(ctx, name, token, forwarded); err != nil {
		// The service definition still carries the credential; the env
		// file only serves interactive shells on the sprite.
		log.Warn("Env file write failed", "error", err)
	}

	desired := sprites.HandlerServiceDefinition(token, w.cfg.HandlerCommand, forwarded)
	service, err := w.cp.GetService(ctx, name, w.cfg.ServiceName)
	if err != nil && !sprites.IsNotFound(err) {
		log.Error("Service lookup failed", "error", err)
		return WakeOutcomeFailed
	}

	if !sprites.EqualDefinition(service, desired) {
		if service, err = w.cp.PutService(ctx, name, w.cfg.ServiceName, desired); err != nil {
			log.Error("Service definition update failed", "error", err)
			return WakeOutcomeFailed
		}
		log.Info("Service definition updated")
	}

	if !w.needsStart(sprite, service) {
		log.Debug("Service already active", "status", service.Status())
		return WakeOutcomeSkipped
	}

	events, err := w.cp.StartService(ctx, name, w.cfg.ServiceName, w.cfg.StartDuration)
	if err != nil {
		log.Error("Service start failed", "error", err)
		return WakeOutcomeFailed
	}
	for _, event := range events {
		log.Debug("Service start output", "type", event.Type, "data", event.Data)
	}
	log.Info("Service started")
	return WakeOutcomeStarted
}

// needsStart applies the activation policy: start unless the service is
// already running, starting, or stopping. A sprite machine that is not
// running gets a start regardless of the reported service state, since
// service records survive machine shutdown.
func (w *Waker) needsStart(sprite *sprites.Sprite, service *sprites.Service) bool {
	if sprite == nil || sprite.Status != sprites.SpriteStatusRunning {
		return true
	}
	switch service.Status() {
	case sprites.ServiceStatusRunning, sprites.ServiceStatusStarting, sprites.ServiceStatusStopping:
		return false
	}
	return true
}

// userToken returns a cached credential for the user, minting a fresh one
// when none exists or the cached one is close to expiry. Reusing the token
// keeps the service definition stable across consecutive wakes.
func (w *Waker) userToken(userID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if cached, ok := w.tokens[userID]; ok && time.Until(cached.expires) > tokenTTLMargin {
		return cached.token, nil
	}

	token, err := w.signer.CreateToken(userID, w.public)
	if err != nil {
		return "", err
	}
	w.tokens[userID] = cachedToken{token: token, expires: time.Now().Add(auth.TokenTTL)}
	return token, nil
}

// forwardedEnv collects the configured allow-list values from the gateway
// process environment, skipping unset keys.
func (w *Waker) forwardedEnv() map[string]string {
	env := make(map[string]string, len(w.cfg.ForwardEnv))
	for _, key := range w.cfg.ForwardEnv {
		if value := w.lookupEnv(key); value != "" {
			env[key] = value
		}
	}
	return env
}

// writeEnvFile persists the credential and forwarded keys on the sprite so
// shell sessions can source them. The write replaces the whole file.
func (w *Waker) writeEnvFile(ctx context.Context, spriteName, token string, forwarded map[string]string) error {
	lines := []string{fmt.Sprintf("SKYCLAW_TOKEN=%s", shellQuote(token))}
	keys := make([]string, 0, len(forwarded))
	for key := range forwarded {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s=%s", key, shellQuote(forwarded[key])))
	}

	script := fmt.Sprintf(
		`mkdir -p "$HOME/.skyclaw" && printf '%%s\n' %s > "$HOME/.skyclaw/env"`,
		shellQuote(strings.Join(lines, "\n")),
	)
	_, err := w.cp.Exec(ctx, spriteName, []string{"sh", "-lc", script}, nil, "")
	return err
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
