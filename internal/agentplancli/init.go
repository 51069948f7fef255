// init.go implements the agentplan init subcommand (scaffold .agentplan/).
package agentplancli

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed config.yaml
var initConfig string

//go:embed policy.yaml
var initPolicy string

// RunInit scaffolds .agentplan/ (config and approval policy). If force is
// true, overwrites existing files.
func RunInit(force bool) {
	cwd, err := os.Getwd()
	if err != nil {
		slog.Error("Cannot get current directory", "error", err)
		os.Exit(1)
	}
	agentplanDir := filepath.Join(cwd, ".agentplan")
	if err := os.MkdirAll(agentplanDir, 0750); err != nil {
		slog.Error("Failed to create .agentplan directory", "error", err)
		os.Exit(1)
	}
	configPath := filepath.Join(agentplanDir, "config.yaml")
	policyPath := filepath.Join(agentplanDir, "policy.yaml")
	writeFile := func(path, content string) bool {
		if !force {
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("  %s already exists (use --force to overwrite)\n", path)
				return false
			}
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			slog.Error("Failed to write file", "path", path, "error", err)
			os.Exit(1)
		}
		fmt.Printf("  Created %s\n", path)
		return true
	}
	writeFile(configPath, initConfig)
	writeFile(policyPath, initPolicy)
	fmt.Println("Done. Plans pause before consequential steps until you approve them.")
	fmt.Println("Next: start Ollama (ollama serve), pull a model (e.g. ollama pull qwen3:4b), then run:")
	fmt.Println("  agentplan plan new \"summarize the reports in ./docs\"")
	fmt.Println("  agentplan plan list")
	fmt.Println("To tune which step categories require approval, edit .agentplan/policy.yaml.")
}
