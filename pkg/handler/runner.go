package handler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"skyclaw/pkg/config"
	"skyclaw/pkg/ds"
	"skyclaw/pkg/paths"
	"skyclaw/pkg/provider"
	providertypes "skyclaw/pkg/provider/types"
	"skyclaw/pkg/schema"
	"skyclaw/pkg/session"
	"skyclaw/pkg/skills"
)

const envSkillTemplates = "SKYCLAW_SKILL_TEMPLATES"

// Prompter runs one message through a user's agent session.
type Prompter interface {
	Prompt(ctx context.Context, userID string, content string) (providertypes.PromptResult, error)
	CloseAll()
}

// Deliverer sends one reply back through the gateway.
type Deliverer interface {
	SendMessage(ctx context.Context, content string) error
}

// Run executes one handler pass: drain the pending inbox, process each
// message, persist the cursor, and return. The offset advances only after
// the whole batch has been attempted, so a crash mid-batch replays it.
func Run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "handler")

	creds, err := LoadCredentials()
	if err != nil {
		return err
	}
	log.Info("Handler starting", "user_id", creds.UserID, "gateway_url", creds.GatewayURL)

	layout, err := paths.Resolve()
	if err != nil {
		return err
	}
	if err := layout.InitDirs(); err != nil {
		return err
	}

	if templatesDir := strings.TrimSpace(os.Getenv(envSkillTemplates)); templatesDir != "" {
		if err := skills.SyncBuiltin(templatesDir, layout.Skills, log); err != nil {
			log.Warn("Builtin skill sync failed", "error", err)
		}
	}

	loaded, err := skills.Load(layout.Skills)
	if err != nil {
		log.Warn("Skill load failed", "error", err)
	} else if len(loaded) > 0 {
		names := make([]string, len(loaded))
		for i, skill := range loaded {
			names[i] = skill.Name
		}
		log.Info("Skills loaded", "count", len(loaded), "skills", strings.Join(names, ","))
	}

	offsets, err := ds.NewFileOffsetStore(layout.OffsetFile())
	if err != nil {
		return fmt.Errorf("open offset store: %w", err)
	}

	streams := ds.New(creds.GatewayURL+"/ds", ds.WithToken(creds.Token))

	pending, err := ReadPending(ctx, streams, creds.UserID, offsets)
	if err != nil {
		return err
	}
	log.Info("Pending messages read", "count", len(pending.Events), "offset", pending.LastOffset)

	if len(pending.Events) > 0 {
		client, err := provider.New(cfg)
		if err != nil {
			return fmt.Errorf("build provider client: %w", err)
		}

		sessions := session.NewManager(cfg, client, loaded, log)
		tools := NewToolClient(creds.GatewayURL, creds.UserID, creds.Token)
		if err := tools.Initialize(ctx); err != nil {
			log.Warn("Tool handshake failed", "error", err)
		}

		processed := ProcessEvents(ctx, creds.UserID, pending.Events, sessions, tools, log)
		log.Info("Batch processed", "processed", processed, "total", len(pending.Events))

		sessions.CloseAll()
		if err := tools.Shutdown(ctx); err != nil {
			log.Warn("Tool connection close failed", "error", err)
		}
	}

	if pending.NextOffset != "" && pending.NextOffset != pending.LastOffset {
		if err := offsets.Set(schema.InboxFeedKey(creds.UserID), pending.NextOffset); err != nil {
			return fmt.Errorf("persist offset: %w", err)
		}
	}

	log.Info("Handler done")
	return nil
}

// ProcessEvents runs each pending message through the session and delivers
// the reply. Failures are logged per event and do not stop the batch.
func ProcessEvents(ctx context.Context, userID string, events []schema.Event, sessions Prompter, tools Deliverer, log *slog.Logger) int {
	if log == nil {
		log = slog.Default()
	}

	processed := 0
	for _, event := range events {
		if event.Kind != schema.KindMessage {
			continue
		}
		content := strings.TrimSpace(event.Content)
		if content == "" {
			continue
		}

		log.Info("Processing event", "event_id", event.ID, "content_length", len(content))

		result, err := sessions.Prompt(ctx, userID, content)
		if err != nil {
			log.Error("Event processing failed", "event_id", event.ID, "error", err)
			continue
		}

		if err := tools.SendMessage(ctx, result.Text); err != nil {
			log.Error("Reply delivery failed", "event_id", event.ID, "error", err)
			continue
		}

		processed++
	}

	return processed
}
