package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"navvoice/internal/logging"
	"navvoice/internal/voice"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/parse"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var showDetails bool

var resolveCmd = &cobra.Command{
	Use:   "resolve [command...]",
	Short: "Resolve navigation commands to audio sample ids",
	Long: `Resolves a command sequence against the selected voice pack and prints one
sample id per line. Commands are Mangle atoms, for example:

  navvoice resolve 'turn(/left)' 'distance(200)'
  navvoice resolve go_ahead`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&showDetails, "details", false, "Print degradation reason and timing")
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// parseCommand turns an atom such as turn(/left, 200) into a Command.
// A bare identifier is a command without arguments.
func parseCommand(s string) (voice.Command, error) {
	clean := strings.TrimSuffix(strings.TrimSpace(s), ".")
	if clean == "" {
		return voice.Command{}, fmt.Errorf("empty command")
	}
	if !strings.Contains(clean, "(") {
		return voice.Cmd(clean), nil
	}
	atom, err := parse.Atom(clean)
	if err != nil {
		return voice.Command{}, fmt.Errorf("failed to parse command %q: %w", s, err)
	}
	args := make([]any, 0, len(atom.Args))
	for i, term := range atom.Args {
		c, ok := term.(ast.Constant)
		if !ok {
			return voice.Command{}, fmt.Errorf("command %q: argument %d is not a constant", s, i)
		}
		arg, err := commandArg(c)
		if err != nil {
			return voice.Command{}, fmt.Errorf("command %q: argument %d: %w", s, i, err)
		}
		args = append(args, arg)
	}
	return voice.Command{Name: atom.Predicate.Symbol, Args: args}, nil
}

func commandArg(c ast.Constant) (any, error) {
	switch c.Type {
	case ast.NameType:
		return voice.Symbol(strings.TrimPrefix(c.Symbol, "/")), nil
	case ast.StringType:
		return c.Symbol, nil
	case ast.NumberType:
		return c.NumValue, nil
	case ast.Float64Type:
		return math.Float64frombits(uint64(c.NumValue)), nil
	default:
		return nil, fmt.Errorf("unsupported constant %s", c)
	}
}

func parseCommands(specs []string) ([]voice.Command, error) {
	cmds := make([]voice.Command, 0, len(specs))
	for _, s := range specs {
		c, err := parseCommand(s)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

// printResolution writes one sample id per line, plus details when asked.
func printResolution(out io.Writer, res voice.Resolution, details bool) {
	for _, f := range res.Files {
		if d, ok := voice.Delay(f); ok {
			fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%s (pause %s)", f, d)))
			continue
		}
		fmt.Fprintln(out, f)
	}
	if !details {
		return
	}
	line := fmt.Sprintf("degraded=%s took=%s", res.Degraded, res.Duration.Round(time.Microsecond))
	if res.Err != nil {
		line += " err=" + res.Err.Error()
	}
	fmt.Fprintln(out, mutedStyle.Render(line))
}

func runResolve(cmd *cobra.Command, args []string) error {
	log := logging.For(logger, cfg.Logging, logging.CategoryCLI)
	if cfg.Voice.Pack == "" {
		return fmt.Errorf("no voice pack selected (use --pack or voice.pack)")
	}
	cmds, err := parseCommands(args)
	if err != nil {
		return err
	}

	ctx := cmdContext(cmd)
	opts := engineOptions(cfg, newSettings(cfg))
	opts.PackID = cfg.Voice.Pack
	e := voice.New(opts)
	defer e.Shutdown()

	if err := e.Load(ctx); err != nil {
		return fmt.Errorf("load voice pack %s: %w", cfg.Voice.Pack, err)
	}
	log.Debug("resolving", zap.String("pack", cfg.Voice.Pack), zap.Int("commands", len(cmds)))

	printResolution(cmd.OutOrStdout(), e.ResolveDetailed(ctx, cmds), showDetails)
	return nil
}
