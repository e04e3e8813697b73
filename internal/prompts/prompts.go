// Package prompts loads the agent character artifacts: the system
// instructions and the greeting template. Both are plain-text files; a
// missing file is fatal for the agent entrypoint but irrelevant to the token
// service.
package prompts

import (
	"fmt"
	"os"
	"strings"
)

// Load reads and trims one text artifact.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load prompt %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// RenderIntro substitutes the participant display name into the greeting
// template. The template carries a literal {name} placeholder.
func RenderIntro(template, name string) string {
	return strings.ReplaceAll(template, "{name}", name)
}
