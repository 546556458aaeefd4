package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dotcommander/ink/internal/app"
	"github.com/dotcommander/ink/internal/models"
	"github.com/dotcommander/ink/internal/output"
)

// NewRulesCmd creates the rule management command group. Rules auto-decide
// permission and pre-tool requests before they ever reach a human.
func NewRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the project's auto-decision rules",
		Args:  cobra.NoArgs,
	}

	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesAddCmd())
	cmd.AddCommand(newRulesRemoveCmd())
	return cmd
}

func newRulesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List project rules and config default rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			project, err := app.LoadRules(projectDir)
			if err != nil {
				return cmdErr(err)
			}
			settings, err := app.LoadSettings()
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				ProjectDir   string            `json:"project_dir"`
				Rules        []models.HookRule `json:"rules"`
				ConfigRules  []models.HookRule `json:"config_rules,omitempty"`
				EffectiveLen int               `json:"effective_len"`
			}
			return output.PrintSuccess(resp{
				ProjectDir:   projectDir,
				Rules:        project,
				ConfigRules:  settings.DefaultRules,
				EffectiveLen: len(project) + len(settings.DefaultRules),
			})
		},
	}
	return cmd
}

func newRulesAddCmd() *cobra.Command {
	var (
		tool   string
		action string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an auto-decision rule for a tool",
		Long: `Adds a rule to the project rules.yaml. The tool name is either exact
("Bash") or a prefix pattern ending in * ("mcp__github*"). Exact matches win
over prefix matches; otherwise the first matching rule decides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			act := models.RuleAction(action)
			if act != models.RuleApprove && act != models.RuleDeny {
				return cmdErr(fmt.Errorf("invalid --action %q: want approve or deny", action))
			}
			if strings.TrimSpace(tool) == "" {
				return cmdErr(errors.New("--tool must not be empty"))
			}

			rules, err := app.LoadRules(projectDir)
			if err != nil {
				return cmdErr(err)
			}

			rule := models.HookRule{
				ID:       models.NewRuleID(),
				ToolName: tool,
				Action:   act,
				AddedBy:  "user",
			}
			if err := app.SaveRules(projectDir, append(rules, rule)); err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(rule)
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "", "Tool name or prefix pattern ending in *")
	cmd.Flags().StringVar(&action, "action", "", "approve or deny")
	_ = cmd.MarkFlagRequired("tool")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func newRulesRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <rule-id>",
		Short: "Remove a rule from the project rules.yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(cmd)
			if err != nil {
				return cmdErr(err)
			}

			rules, err := app.LoadRules(projectDir)
			if err != nil {
				return cmdErr(err)
			}

			kept := rules[:0]
			var removed *models.HookRule
			for _, r := range rules {
				if r.ID == args[0] {
					rule := r
					removed = &rule
					continue
				}
				kept = append(kept, r)
			}
			if removed == nil {
				return cmdErr(fmt.Errorf("no rule with id %s", args[0]))
			}

			if err := app.SaveRules(projectDir, kept); err != nil {
				return cmdErr(err)
			}
			return output.PrintSuccess(*removed)
		},
	}
	return cmd
}
