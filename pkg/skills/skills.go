// Package skills loads markdown skill definitions from the skills
// directory and formats them for injection into agent system prompts.
//
// Two layouts are supported: a directory per skill containing SKILL.md,
// and flat <name>.md files directly under the skills directory.
package skills

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Skill is one loaded skill definition.
type Skill struct {
	Name        string
	Description string
	Content     string
	Path        string
}

// ParseFrontmatter splits a markdown document into its frontmatter block
// and body. The frontmatter is the line-based `key: value` form delimited
// by `---` lines; surrounding single or double quotes on values are
// stripped. Documents without a frontmatter block return an empty map and
// the full input as body.
func ParseFrontmatter(raw string) (map[string]string, string) {
	frontmatter := map[string]string{}

	rest, ok := strings.CutPrefix(raw, "---")
	if !ok {
		return frontmatter, raw
	}
	rest, ok = strings.CutPrefix(strings.TrimPrefix(rest, "\r"), "\n")
	if !ok {
		return frontmatter, raw
	}

	block, body, ok := cutFrontmatterEnd(rest)
	if !ok {
		return frontmatter, raw
	}

	for _, line := range strings.Split(block, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		frontmatter[key] = stripQuotes(value)
	}

	return frontmatter, body
}

func cutFrontmatterEnd(rest string) (block string, body string, ok bool) {
	for _, delim := range []string{"\n---\n", "\n---\r\n", "\r\n---\n", "\r\n---\r\n"} {
		if before, after, found := strings.Cut(rest, delim); found {
			return before, after, true
		}
	}
	for _, delim := range []string{"\n---", "\r\n---"} {
		if before, found := strings.CutSuffix(rest, delim); found {
			return before, "", true
		}
	}
	return "", "", false
}

func stripQuotes(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// Load reads every skill under dir. A missing directory yields no skills
// and no error; unreadable individual files are skipped.
func Load(dir string) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		var filePath string
		switch {
		case entry.IsDir():
			candidate := filepath.Join(dir, entry.Name(), "SKILL.md")
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			filePath = candidate
		case strings.HasSuffix(entry.Name(), ".md"):
			filePath = filepath.Join(dir, entry.Name())
		default:
			continue
		}

		raw, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}

		frontmatter, body := ParseFrontmatter(string(raw))
		name := frontmatter["name"]
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ".md")
		}

		skills = append(skills, Skill{
			Name:        name,
			Description: frontmatter["description"],
			Content:     strings.TrimSpace(body),
			Path:        filePath,
		})
	}

	return skills, nil
}

// FormatForPrompt renders loaded skills as a system prompt section.
// Returns an empty string when there are no skills.
func FormatForPrompt(skills []Skill) string {
	if len(skills) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n## Skills\n\nYou have the following skills available:\n\n")
	for i, skill := range skills {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		b.WriteString("### ")
		b.WriteString(skill.Name)
		b.WriteString("\n")
		if skill.Description != "" {
			b.WriteString("_")
			b.WriteString(skill.Description)
			b.WriteString("_\n")
		}
		b.WriteString("\n")
		b.WriteString(skill.Content)
	}
	return b.String()
}

// SyncBuiltin installs bundled skill templates from templatesDir into
// skillsDir. Existing skill directories are left untouched so user edits
// survive upgrades.
func SyncBuiltin(templatesDir string, skillsDir string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "skills")

	templates, err := os.ReadDir(templatesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read skill templates: %w", err)
	}

	if err := os.MkdirAll(skillsDir, 0o755); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}

	for _, template := range templates {
		if !template.IsDir() {
			continue
		}

		destDir := filepath.Join(skillsDir, template.Name())
		if _, err := os.Stat(destDir); err == nil {
			continue
		}

		srcDir := filepath.Join(templatesDir, template.Name())
		if err := copyDirFiles(srcDir, destDir); err != nil {
			return fmt.Errorf("install skill %s: %w", template.Name(), err)
		}
		log.Info("Installed builtin skill", "skill", template.Name())
	}

	return nil
}

func copyDirFiles(srcDir string, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	files, err := os.ReadDir(srcDir)
	if err != nil {
		return err
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(srcDir, file.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(destDir, file.Name()), data, 0o644); err != nil {
			return err
		}
	}

	return nil
}
