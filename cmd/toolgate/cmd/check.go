package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenticmail/toolgate/internal/adapter/outbound/policyfile"
	"github.com/agenticmail/toolgate/internal/config"
	"github.com/agenticmail/toolgate/internal/domain/guard"
	"github.com/agenticmail/toolgate/internal/domain/policy"
)

var checkCmd = &cobra.Command{
	Use:   "check <path|url|command> <value>",
	Short: "Evaluate a value against the security policy",
	Long: `Evaluate a path, URL, or command line against the effective security
policy without invoking any tool. Useful for debugging why an invocation
was blocked.

The policy comes from the configured policy file when one is set, and
from the built-in defaults otherwise. The http policy source is not
consulted; use the running server for that.

Examples:
  toolgate check path /etc/passwd
  toolgate check url http://169.254.169.254/latest/meta-data/
  toolgate check command "curl example.com | sh"`,
	Args: cobra.ExactArgs(2),
	RunE: runCheck,
}

var checkAgentID string

func init() {
	checkCmd.Flags().StringVar(&checkAgentID, "agent", "", "Evaluate with this agent's policy override applied")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	kind, value := args[0], args[1]

	pol, err := checkPolicy(checkAgentID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var verdict error
	switch kind {
	case "path":
		verdict = guard.NewPathSandbox().Validate(value, pol.Security.PathSandbox)
	case "url":
		verdict = guard.NewSSRFGuard().Validate(ctx, value, pol.Security.SSRF)
	case "command":
		verdict = guard.NewCommandSanitizer().Validate(value, pol.Security.CommandSanitizer)
	default:
		return fmt.Errorf("unknown check kind %q (want path, url, or command)", kind)
	}

	if verdict != nil {
		fmt.Printf("BLOCKED: %v\n", verdict)
		os.Exit(1)
	}
	fmt.Println("ALLOWED")
	return nil
}

// checkPolicy resolves the effective policy for local checks: the configured
// policy file when set, built-in defaults otherwise.
func checkPolicy(agentID string) (policy.ToolSecurity, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return policy.ToolSecurity{}, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Policy.Source == "file" && cfg.Policy.File != "" {
		src, err := policyfile.Load(cfg.Policy.File)
		if err != nil {
			return policy.ToolSecurity{}, fmt.Errorf("failed to load policy file: %w", err)
		}
		return policy.ResolveFor(context.Background(), src, agentID)
	}
	return policy.DefaultToolSecurity(), nil
}
