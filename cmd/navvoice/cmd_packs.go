package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"navvoice/internal/logging"
	"navvoice/internal/settings"
	"navvoice/internal/voice"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// certifyLimit bounds the number of packs evaluated at once.
const certifyLimit = 4

var packsCmd = &cobra.Command{
	Use:   "packs",
	Short: "List voice packs and their certification status",
	Args:  cobra.NoArgs,
	RunE:  runPacks,
}

var checkCmd = &cobra.Command{
	Use:   "check [pack...]",
	Short: "Load and certify voice packs",
	Long: `Loads each pack, checks its version fact against the supported set and
reports OK or the failure kind. With no arguments every pack under the root
is checked. Exits non-zero when any pack fails.`,
	RunE: runCheck,
}

// packReport is the outcome of certifying one pack.
type packReport struct {
	ID       string
	Kind     string
	Version  int
	Language string
	Err      error
}

func certifyPack(ctx context.Context, id string, store *settings.Store) packReport {
	opts := engineOptions(cfg, store)
	opts.PackID = id
	e := voice.New(opts)
	defer e.Shutdown()

	rep := packReport{ID: id}
	if err := e.Load(ctx); err != nil {
		rep.Err = err
		return rep
	}
	if p := e.Pack(); p != nil {
		rep.Kind = p.Kind.String()
	}
	rep.Version = e.CertifiedVersion()
	rep.Language = e.Language()
	return rep
}

// certifyAll certifies ids concurrently. Reports keep the order of ids.
func certifyAll(ctx context.Context, ids []string) []packReport {
	store := newSettings(cfg)
	reports := make([]packReport, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(certifyLimit)
	for i, id := range ids {
		g.Go(func() error {
			reports[i] = certifyPack(gctx, id, store)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func listPacks() ([]string, error) {
	return voice.DirLocator{Root: cfg.Voice.Root}.List()
}

// packTable renders the header and one row per report with aligned columns.
func packTable(reports []packReport) []string {
	versions := make([]string, len(reports))
	widths := []int{len("PACK"), len("KIND"), len("VERSION"), len("LANGUAGE")}
	for i, r := range reports {
		versions[i] = strconv.Itoa(r.Version)
		if r.Err != nil {
			versions[i] = "-"
		}
		widths[0] = max(widths[0], len(r.ID))
		widths[1] = max(widths[1], len(r.Kind))
		widths[2] = max(widths[2], len(versions[i]))
		widths[3] = max(widths[3], len(r.Language))
	}

	lines := []string{headerStyle.Render(row(widths, "PACK", "KIND", "VERSION", "LANGUAGE", "STATUS"))}
	for i, r := range reports {
		status := okStyle.Render("certified")
		if r.Err != nil {
			status = errStyle.Render(voice.KindOf(r.Err).String())
		}
		lines = append(lines, row(widths, r.ID, r.Kind, versions[i], r.Language, status))
	}
	return lines
}

func runPacks(cmd *cobra.Command, args []string) error {
	log := logging.For(logger, cfg.Logging, logging.CategoryCLI)
	ids, err := listPacks()
	if err != nil {
		return fmt.Errorf("list voice packs in %s: %w", cfg.Voice.Root, err)
	}
	log.Debug("listing voice packs", zap.String("root", cfg.Voice.Root), zap.Int("count", len(ids)))

	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("no voice packs under "+cfg.Voice.Root))
		return nil
	}

	for _, line := range packTable(certifyAll(cmdContext(cmd), ids)) {
		fmt.Fprintln(out, line)
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	log := logging.For(logger, cfg.Logging, logging.CategoryCLI)
	ids := args
	if len(ids) == 0 {
		listed, err := listPacks()
		if err != nil {
			return fmt.Errorf("list voice packs in %s: %w", cfg.Voice.Root, err)
		}
		ids = listed
	}
	if len(ids) == 0 {
		return fmt.Errorf("no voice packs to check under %s", cfg.Voice.Root)
	}

	out := cmd.OutOrStdout()
	var failed []string
	for _, r := range certifyAll(cmdContext(cmd), ids) {
		if r.Err != nil {
			failed = append(failed, r.ID)
			log.Warn("voice pack failed certification", zap.String("pack", r.ID), zap.Error(r.Err))
			fmt.Fprintf(out, "%s %s: %s\n", errStyle.Render("FAIL"), r.ID, voice.KindOf(r.Err))
			continue
		}
		fmt.Fprintf(out, "%s %s (version %d)\n", okStyle.Render("OK"), r.ID, r.Version)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d voice packs failed: %s", len(failed), len(ids), strings.Join(failed, ", "))
	}
	return nil
}
