package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/grokfilter/grokfilter-go/pkg/grok"
	"github.com/grokfilter/grokfilter-go/pkg/grok/pattern"
)

type patternsFlags struct {
	patternFiles []string
	patternsDirs []string
	fields       bool
}

func newPatternsCmd(rf *rootFlags) *cobra.Command {
	pf := &patternsFlags{}

	cmd := &cobra.Command{
		Use:   "patterns [NAME]",
		Short: "List pattern definitions",
		Long: `Without NAME, list every available pattern and the source defining it.
With NAME, print its definition and fully expanded regular expression.

Examples:
  # List built-in patterns
  grokfilter patterns

  # Include custom pattern files
  grokfilter patterns -p postfix.grok

  # Show how SYSLOGBASE expands and which fields it captures
  grokfilter patterns SYSLOGBASE --fields`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completePatternNames(pf),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPatterns(cmd, rf, pf, args)
		},
	}
	cmd.Flags().StringArrayVarP(&pf.patternFiles, "pattern-file", "p", nil,
		"Pattern file to load, text or YAML (repeatable)")
	cmd.Flags().StringArrayVar(&pf.patternsDirs, "patterns-dir", nil,
		"Directory of pattern files to load (repeatable)")
	cmd.Flags().BoolVar(&pf.fields, "fields", false,
		"With NAME, also list the captured fields")
	return cmd
}

func runPatterns(cmd *cobra.Command, rf *rootFlags, pf *patternsFlags, args []string) error {
	logger, err := rf.logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	reg, err := grok.LoadRegistry(
		grok.WithPatternFiles(pf.patternFiles...),
		grok.WithPatternsDir(pf.patternsDirs...),
		grok.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, name := range reg.Names() {
			fmt.Fprintf(tw, "%s\t%s\n", name, reg.SourceOf(name))
		}
		return tw.Flush()
	}

	name := args[0]
	template, err := reg.Resolve(name)
	if err != nil {
		return err
	}
	compiled, err := pattern.NewCompiler(reg, pattern.WithCompilerLogger(logger)).Compile("%{" + name + "}")
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "name:     %s\n", name)
	fmt.Fprintf(out, "source:   %s\n", reg.SourceOf(name))
	fmt.Fprintf(out, "pattern:  %s\n", template)
	fmt.Fprintf(out, "expanded: %s\n", compiled.Regex())
	if pf.fields {
		fmt.Fprintln(out, "fields:")
		for _, spec := range compiled.Fields() {
			via := spec.Pattern
			if via == "" {
				via = "inline group"
			}
			fmt.Fprintf(out, "  %s (%s) via %s\n", spec.Field, spec.Coercion, via)
		}
	}
	return nil
}
