package main

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/grokfilter/grokfilter-go/pkg/grok"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for grokfilter.

To load completions:

Bash:
  $ source <(grokfilter completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ grokfilter completion bash > /etc/bash_completion.d/grokfilter
  # macOS:
  $ grokfilter completion bash > $(brew --prefix)/etc/bash_completion.d/grokfilter

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ grokfilter completion zsh > "${fpath[1]}/_grokfilter"

Fish:
  $ grokfilter completion fish | source

  # To load completions for each session, execute once:
  $ grokfilter completion fish > ~/.config/fish/completions/grokfilter.fish

PowerShell:
  PS> grokfilter completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			out := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}

// completeTimeoutScopes completes --timeout-scope.
func completeTimeoutScopes(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"pattern\tEach expression gets its own budget",
		"event\tOne budget for the whole event",
		"none\tNo timeout",
	}, cobra.ShellCompDirectiveNoFileComp
}

// completeFormats completes --format.
func completeFormats(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	formats := make([]string, 0, len(validFormats))
	for f := range validFormats {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats, cobra.ShellCompDirectiveNoFileComp
}

// completePatternNames completes the NAME argument of patterns from the
// registry that the command's own --pattern-file and --patterns-dir flags
// describe.
func completePatternNames(pf *patternsFlags) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		reg, err := grok.LoadRegistry(
			grok.WithPatternFiles(pf.patternFiles...),
			grok.WithPatternsDir(pf.patternsDirs...),
		)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		var names []string
		for _, name := range reg.Names() {
			if strings.HasPrefix(name, toComplete) {
				names = append(names, name+"\t"+reg.SourceOf(name))
			}
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}
