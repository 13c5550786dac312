// Package session owns per-user reasoning sessions on top of a provider
// client. Sessions are created lazily, cached for the lifetime of the
// process, and serialize prompts per user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"skyclaw/pkg/config"
	"skyclaw/pkg/provider"
	providertypes "skyclaw/pkg/provider/types"
	"skyclaw/pkg/skills"
)

// Observer receives tool activity emitted while a prompt executes.
type Observer func(userID string, event providertypes.ToolEvent)

// Manager tracks one provider session per user.
type Manager struct {
	client provider.Client
	model  string
	agent  string
	log    *slog.Logger
	system func(userID string) string

	group singleflight.Group

	mu       sync.RWMutex
	sessions map[string]*userSession

	observerMu sync.RWMutex
	observers  map[int]Observer
	observerID int
}

// userSession is the mutable state tracked for one user.
type userSession struct {
	id       string
	promptMu sync.Mutex
	primed   bool
	history  *History
}

// NewManager builds a session manager. The system prompt for each user is
// resolved once from the loaded skills and the user's identity.
func NewManager(cfg *config.Config, client provider.Client, loaded []skills.Skill, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}

	skillsSection := skills.FormatForPrompt(loaded)

	return &Manager{
		client: client,
		model:  strings.TrimSpace(cfg.Agents.Defaults.Model),
		agent:  strings.TrimSpace(cfg.Agents.Defaults.Agent),
		log:    log.With("component", "session.manager"),
		system: func(userID string) string {
			return BuildSystemPrompt(userID) + skillsSection
		},
		sessions:  make(map[string]*userSession),
		observers: make(map[int]Observer),
	}
}

// Observe registers an observer for tool activity across all sessions.
// The returned function unregisters it and is safe to call more than once.
func (m *Manager) Observe(observer Observer) func() {
	if observer == nil {
		return func() {}
	}

	m.observerMu.Lock()
	m.observerID++
	id := m.observerID
	m.observers[id] = observer
	m.observerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.observerMu.Lock()
			delete(m.observers, id)
			m.observerMu.Unlock()
		})
	}
}

// Prompt routes one message to the user's session, serializing prompts per
// user. The first prompt of a session carries the system preamble, and
// recent turn history is prepended so the model keeps conversational
// continuity across provider calls.
func (m *Manager) Prompt(ctx context.Context, userID string, content string) (providertypes.PromptResult, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return providertypes.PromptResult{}, errors.New("prompt cannot be empty")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return providertypes.PromptResult{}, errors.New("user id is required")
	}

	sess, err := m.sessionFor(ctx, userID)
	if err != nil {
		return providertypes.PromptResult{}, err
	}

	sess.promptMu.Lock()
	defer sess.promptMu.Unlock()

	full := content
	if history := sess.history.Format(); history != "" {
		full = history + "\n\n---\n\nNew message: " + content
	}
	if !sess.primed {
		full = m.system(userID) + "\n\n---\n\n" + full
	}

	ctx = providertypes.WithToolEventHandler(ctx, func(event providertypes.ToolEvent) {
		m.log.Debug("Tool activity",
			"user_id", userID,
			"kind", event.Kind,
			"tool", event.Tool,
		)
		m.notifyObservers(userID, event)
	})

	result, err := m.client.Prompt(ctx, sess.id, full, m.model, m.agent)
	if err != nil {
		return providertypes.PromptResult{}, fmt.Errorf("prompt for %s: %w", userID, err)
	}

	sess.primed = true
	sess.history.AddTurn(content, result.Text)

	m.log.Debug("Prompt completed", append([]any{"user_id", userID, "response_length", len(result.Text)}, usageAttrs(result)...)...)

	return result, nil
}

// sessionFor returns an existing session or lazily creates one. Creation
// runs under singleflight so concurrent first prompts share one provider
// session.
func (m *Manager) sessionFor(ctx context.Context, userID string) (*userSession, error) {
	m.mu.RLock()
	sess, ok := m.sessions[userID]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	value, err, _ := m.group.Do(userID, func() (any, error) {
		m.mu.RLock()
		sess, ok := m.sessions[userID]
		m.mu.RUnlock()
		if ok {
			return sess, nil
		}

		if err := m.client.Health(ctx); err != nil {
			return nil, fmt.Errorf("provider health: %w", err)
		}

		sessionID, err := m.client.CreateSession(ctx, "skyclaw:"+userID)
		if err != nil {
			return nil, fmt.Errorf("create session for %s: %w", userID, err)
		}

		m.log.Info("Session created", "user_id", userID, "session_id", sessionID)

		sess = &userSession{id: sessionID, history: NewHistory(0)}
		m.mu.Lock()
		m.sessions[userID] = sess
		m.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}

	return value.(*userSession), nil
}

// SessionID returns the provider session ID for a user, or "" when no
// session has been created yet.
func (m *Manager) SessionID(userID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sess, ok := m.sessions[userID]; ok {
		return sess.id
	}
	return ""
}

// CloseAll drops every tracked session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for userID := range m.sessions {
		m.log.Debug("Closing session", "user_id", userID)
		delete(m.sessions, userID)
	}
}

func (m *Manager) notifyObservers(userID string, event providertypes.ToolEvent) {
	m.observerMu.RLock()
	defer m.observerMu.RUnlock()

	for _, observer := range m.observers {
		observer(userID, event)
	}
}
