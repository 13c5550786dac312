package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"skyclaw/pkg/config"
	"skyclaw/pkg/handler"
	"skyclaw/pkg/logger"
	"skyclaw/pkg/paths"
	"skyclaw/pkg/skills"

	"github.com/spf13/cobra"
)

var handlerToken string
var handlerJSON bool

var handlerCmd = &cobra.Command{
	Use:   "handler",
	Short: "Sprite-side message handler",
	Long:  "Commands for the handler process that runs inside a sprite: drain the inbox, sync skills, and inspect the environment.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if token := strings.TrimSpace(handlerToken); token != "" {
			return os.Setenv(handler.EnvToken, token)
		}
		return nil
	},
}

var handlerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Process pending messages from the inbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)

		return handler.Run(context.Background(), cfg, slog.Default())
	},
}

var handlerUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Sync built-in skills and list installed skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		layout, err := paths.Resolve()
		if err != nil {
			return err
		}
		if err := layout.InitDirs(); err != nil {
			return err
		}

		if templatesDir := strings.TrimSpace(os.Getenv("SKYCLAW_SKILL_TEMPLATES")); templatesDir != "" {
			if err := skills.SyncBuiltin(templatesDir, layout.Skills, slog.Default()); err != nil {
				return err
			}
		}

		loaded, err := skills.Load(layout.Skills)
		if err != nil {
			return err
		}

		if handlerJSON {
			return printSkillsJSON(loaded)
		}

		fmt.Printf("Synced built-in skills. %d skill(s) installed:\n\n", len(loaded))
		for _, skill := range loaded {
			fmt.Printf("  %s - %s\n", skill.Name, orNone(skill.Description))
			fmt.Printf("    %s\n", skill.Path)
		}
		return nil
	},
}

var handlerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show directory paths, token status, and installed skills",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		layout, err := paths.Resolve()
		if err != nil {
			return err
		}

		tokenSet := strings.TrimSpace(os.Getenv(handler.EnvToken)) != ""
		loaded, _ := skills.Load(layout.Skills)

		dirs := map[string]string{
			"root":     layout.Root,
			"data":     layout.Data,
			"sessions": layout.Sessions,
			"skills":   layout.Skills,
		}

		if handlerJSON {
			type dirStatus struct {
				Path   string `json:"path"`
				Exists bool   `json:"exists"`
			}
			type skillStatus struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Path        string `json:"path"`
			}

			status := struct {
				TokenSet    bool                 `json:"tokenSet"`
				Directories map[string]dirStatus `json:"directories"`
				Skills      []skillStatus        `json:"skills"`
			}{
				TokenSet:    tokenSet,
				Directories: map[string]dirStatus{},
				Skills:      []skillStatus{},
			}
			for name, path := range dirs {
				status.Directories[name] = dirStatus{Path: path, Exists: dirExists(path)}
			}
			for _, skill := range loaded {
				status.Skills = append(status.Skills, skillStatus{Name: skill.Name, Description: skill.Description, Path: skill.Path})
			}

			encoded, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(encoded))
			return nil
		}

		fmt.Println("Skyclaw Handler Status")
		fmt.Println()
		if tokenSet {
			fmt.Printf("Token: set (%s)\n", handler.EnvToken)
		} else {
			fmt.Println("Token: NOT SET")
		}
		fmt.Println()
		fmt.Println("Directories:")
		for _, name := range []string{"root", "data", "sessions", "skills"} {
			mark := "-"
			if dirExists(dirs[name]) {
				mark = "+"
			}
			fmt.Printf("  [%s] %s: %s\n", mark, name, dirs[name])
		}
		fmt.Println()
		fmt.Printf("Skills (%d):\n", len(loaded))
		if len(loaded) == 0 {
			fmt.Println("  (none, run 'skyclaw handler update' to install)")
		}
		for _, skill := range loaded {
			fmt.Printf("  %s - %s\n", skill.Name, orNone(skill.Description))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(handlerCmd)
	handlerCmd.AddCommand(handlerStartCmd)
	handlerCmd.AddCommand(handlerUpdateCmd)
	handlerCmd.AddCommand(handlerStatusCmd)

	handlerCmd.PersistentFlags().StringVar(&handlerToken, "token", "", "sprite JWT token (or set SKYCLAW_TOKEN)")
	handlerCmd.PersistentFlags().BoolVar(&handlerJSON, "json", false, "output as JSON")
}

func printSkillsJSON(loaded []skills.Skill) error {
	type skillStatus struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Path        string `json:"path"`
	}

	out := make([]skillStatus, 0, len(loaded))
	for _, skill := range loaded {
		out = append(out, skillStatus{Name: skill.Name, Description: skill.Description, Path: skill.Path})
	}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func orNone(description string) string {
	if strings.TrimSpace(description) == "" {
		return "(no description)"
	}
	return description
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
