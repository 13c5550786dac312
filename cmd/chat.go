/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"skyclaw/pkg/config"
	"skyclaw/pkg/paths"
	"skyclaw/pkg/provider"
	providertypes "skyclaw/pkg/provider/types"
	"skyclaw/pkg/session"
	"skyclaw/pkg/skills"

	"github.com/spf13/cobra"
)

var (
	chatPrompt string
	chatUserID string
)

// chatCmd talks to a reasoning session the same way the sprite handler does:
// through the session manager, with skills loaded and tool activity surfaced.
var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with a local reasoning session",
	Long:  "Starts a local session through the configured reasoning provider, with skills loaded, and sends one prompt or opens an interactive loop. Useful for exercising the handler's session path without a gateway.",
	Run: func(cmd *cobra.Command, args []string) {
		prompt := resolveChatPrompt(args)

		cfg, err := config.LoadConfig()
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			return
		}

		manager, cleanup, err := newChatManager(cfg)
		if err != nil {
			fmt.Printf("failed to start session manager: %v\n", err)
			return
		}
		defer cleanup()

		ctx := context.Background()
		if prompt != "" {
			sendChatPrompt(ctx, manager, chatUserID, prompt)
			return
		}

		chatLoop(ctx, manager, chatUserID)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatPrompt, "prompt", "p", "", "prompt text to send")
	chatCmd.Flags().StringVarP(&chatUserID, "user", "u", "local", "user id for the session")
}

// newChatManager wires a session manager the way the handler runner does,
// minus the mailbox plumbing. Skill loading failures degrade to an empty set.
func newChatManager(cfg *config.Config) (*session.Manager, func(), error) {
	client, err := provider.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	var loaded []skills.Skill
	if layout, err := paths.Resolve(); err == nil {
		loaded, err = skills.Load(layout.Skills)
		if err != nil {
			fmt.Printf("skills unavailable: %v\n", err)
		}
	}

	manager := session.NewManager(cfg, client, loaded, slog.Default())
	unobserve := manager.Observe(func(userID string, event providertypes.ToolEvent) {
		if event.Tool != "" {
			fmt.Printf("  [%s %s]\n", event.Kind, event.Tool)
		}
	})

	cleanup := func() {
		unobserve()
		manager.CloseAll()
	}
	return manager, cleanup, nil
}

func resolveChatPrompt(args []string) string {
	if value := strings.TrimSpace(chatPrompt); value != "" {
		return value
	}
	return strings.TrimSpace(strings.Join(args, " "))
}

func sendChatPrompt(ctx context.Context, manager *session.Manager, userID string, prompt string) {
	result, err := manager.Prompt(ctx, userID, prompt)
	if err != nil {
		fmt.Printf("prompt failed: %v\n", err)
		return
	}
	fmt.Println(result.Text)
}

func chatLoop(ctx context.Context, manager *session.Manager, userID string) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				fmt.Printf("input error: %v\n", err)
			}
			return
		}

		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if isExitCommand(prompt) {
			return
		}

		result, err := manager.Prompt(ctx, userID, prompt)
		if err != nil {
			fmt.Printf("prompt failed: %v\n", err)
			continue
		}
		printReply(result.Text)
	}
}

// printReply indents the assistant reply so it reads apart from the prompt line.
func printReply(message string) {
	lines := replyLines(message)
	for _, line := range lines {
		fmt.Printf("  %s\n", line)
	}
	if len(lines) > 0 {
		fmt.Println()
	}
}

func replyLines(message string) []string {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "quit", ":q":
		return true
	}
	return false
}
