package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"navvoice/internal/logging"
	"navvoice/internal/settings"
	"navvoice/internal/voice"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive prompt resolution",
	Long: `Reads command sequences from stdin, one per line, with ';' between commands:

  turn(/left); distance(200)

Directives:
  :mode <key>   switch the application mode
  :pack <id>    select another voice pack
  :stats        show rule base statistics
  :quit         leave

When voice.watch is enabled, edits to the selected pack are reloaded live.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

// session is the state behind one repl run.
type session struct {
	manager *voice.Manager
	store   *settings.Store
	out     io.Writer
	logger  *zap.Logger
}

func runRepl(cmd *cobra.Command, args []string) error {
	log := logging.For(logger, cfg.Logging, logging.CategoryCLI)
	if cfg.Voice.Pack == "" {
		return fmt.Errorf("no voice pack selected (use --pack or voice.pack)")
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := newSettings(cfg)
	manager := voice.NewManager(engineOptions(cfg, store))
	defer manager.Close()

	if err := manager.Select(ctx, cfg.Voice.Pack); err != nil {
		return fmt.Errorf("load voice pack %s: %w", cfg.Voice.Pack, err)
	}

	if cfg.Voice.Watch {
		w, err := voice.NewWatcher(cfg.Voice.Root, cfg.GetWatchDebounce(), manager.HandleChange,
			logging.For(logger, cfg.Logging, logging.CategoryWatcher))
		if err != nil {
			log.Warn("pack watcher unavailable", zap.Error(err))
		} else if err := w.Start(ctx); err != nil {
			log.Warn("pack watcher failed to start", zap.Error(err))
		} else {
			defer w.Stop()
		}
	}

	s := &session{manager: manager, store: store, out: cmd.OutOrStdout(), logger: log}
	return s.run(ctx, cmd.InOrStdin())
}

func (s *session) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(s.out, mutedStyle.Render("> "))
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := s.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether the session should end.
func (s *session) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, ":") {
		return s.directive(ctx, strings.Fields(line[1:]))
	}

	cmds, err := parseCommands(strings.Split(line, ";"))
	if err != nil {
		fmt.Fprintln(s.out, errStyle.Render(err.Error()))
		return false
	}
	e := s.manager.Current()
	if e == nil {
		fmt.Fprintln(s.out, errStyle.Render("no voice pack loaded"))
		return false
	}
	res := e.ResolveDetailed(ctx, cmds)
	if len(res.Files) == 0 {
		fmt.Fprintln(s.out, mutedStyle.Render("(nothing to say: "+string(res.Degraded)+")"))
		return false
	}
	printResolution(s.out, res, false)
	return false
}

func (s *session) directive(ctx context.Context, fields []string) bool {
	if len(fields) == 0 {
		fmt.Fprintln(s.out, errStyle.Render("empty directive"))
		return false
	}
	switch fields[0] {
	case "quit", "q", "exit":
		return true
	case "mode":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, errStyle.Render("usage: :mode <key>"))
			return false
		}
		mode := settings.NewMode(fields[1])
		s.store.SetMode(mode)
		s.logger.Debug("mode switched", zap.Stringer("mode", mode))
		fmt.Fprintln(s.out, okStyle.Render("mode "+mode.Key()))
	case "pack":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, errStyle.Render("usage: :pack <id>"))
			return false
		}
		if err := s.manager.Select(ctx, fields[1]); err != nil {
			fmt.Fprintln(s.out, errStyle.Render(fmt.Sprintf("%s: %s", fields[1], voice.KindOf(err))))
			return false
		}
		fmt.Fprintln(s.out, okStyle.Render("pack "+fields[1]))
	case "stats":
		e := s.manager.Current()
		if e == nil {
			fmt.Fprintln(s.out, errStyle.Render("no voice pack loaded"))
			return false
		}
		st := e.Stats()
		fmt.Fprintf(s.out, "pack=%s version=%d language=%s mode=%s rules=%d facts=%d evaluations=%d\n",
			e.CurrentVoice(), e.CertifiedVersion(), e.Language(), e.Mode().Key(),
			st.Rules, st.TotalFacts, st.Evaluations)
	default:
		fmt.Fprintln(s.out, errStyle.Render("unknown directive :"+fields[0]))
	}
	return false
}
