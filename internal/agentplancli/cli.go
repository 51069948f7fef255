// cli.go holds the agentplan CLI entrypoint (Main), default constants, and flags.
package agentplancli

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultOllama = "http://127.0.0.1:11434"
	defaultModel  = "qwen3:4b"
	defaultActor  = "local-user"
)

// Main runs the agentplan CLI.
func Main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentplan",
	Short: "Autonomous plan executor: decompose goals into steps and run them with approval gates.",
	Long: `Agentplan turns a goal into an ordered list of steps and executes them one
by one. Steps with consequential actions (sending messages, moving money,
deleting data) pause the plan until you approve or reject them. State is
stored in SQLite; no daemon required.

  Quickstart:
    agentplan init                            # scaffold .agentplan/ with config + policy
    agentplan plan new "archive last month's reports"
    agentplan plan list
    agentplan plan approve <plan-id>          # resume a paused plan

  Planners (edit .agentplan/config.yaml after 'agentplan init'):
    Local (Ollama):  ollama serve && ollama pull qwen3:4b
    Static:          set planner: static for deterministic one-step plans`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .agentplan/ (config and approval policy).",
	Long:  `Create .agentplan/config.yaml and .agentplan/policy.yaml. Use --force to overwrite existing files.`,
	RunE:  runInitCmd,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("db", "", "SQLite database path (default: .agentplan/local.db)")
	f.String("ollama", defaultOllama, "Ollama base URL")
	f.String("model", defaultModel, "Planner model name")
	f.String("planner", "", "Planner backend: ollama or static (default: ollama when reachable)")
	f.String("actor", defaultActor, "Actor identity used as plan owner and approver")
	f.String("policy", "", "Path to an approval policy YAML (default: .agentplan/policy.yaml when present)")
	f.Bool("trace", false, "Enable operation telemetry on stderr")

	rootCmd.AddCommand(initCmd, planCmd)

	rootCmd.InitDefaultHelpCmd()
	initCmd.Flags().BoolP("force", "f", false, "Overwrite existing files")
}

func runInitCmd(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	RunInit(force)
	return nil
}
