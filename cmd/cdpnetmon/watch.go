package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdpnetmon/internal/cdp"
	"cdpnetmon/internal/filter"
	"cdpnetmon/internal/service"
	"cdpnetmon/pkg/domain"
	"cdpnetmon/pkg/traffic"

	"github.com/spf13/cobra"
)

type watchOptions struct {
	target      string
	devtoolsURL string
	urlFilter   string
	codes       string
	hideMethods []string
	hideTypes   []string
	showPing    bool
	duration    time.Duration
	capacity    int

	exportPath string
	harPath    string
	archive    bool
	selection  string
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	o := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach to a target and stream its network traffic",
		Long: `Attach to a target and print every request as it settles.

Press Ctrl+C to stop. On exit the retained requests are printed as a table and
optionally exported as a JSON snapshot, a HAR file or a SQLite archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, root, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.target, "target", "t", "", "target id (default: first page)")
	f.StringVar(&o.devtoolsURL, "devtools-url", "", "DevTools HTTP endpoint, overrides --port")
	f.StringVarP(&o.urlFilter, "filter", "f", "", `URL terms separated by ";" (any match passes)`)
	f.StringVar(&o.codes, "codes", "", `status codes separated by ","`)
	f.StringSliceVar(&o.hideMethods, "hide-method", nil, "methods to hide")
	f.StringSliceVar(&o.hideTypes, "hide-type", nil, "resource types to hide")
	f.BoolVar(&o.showPing, "ping", false, "show Ping requests")
	f.DurationVarP(&o.duration, "duration", "d", 0, "stop after this long (0 = until interrupted)")
	f.IntVar(&o.capacity, "capacity", 0, "retention capacity override")
	f.StringVarP(&o.exportPath, "export", "o", "", "write a JSON snapshot to this file on exit")
	f.StringVar(&o.harPath, "har", "", "write a HAR file on exit")
	f.BoolVar(&o.archive, "archive", false, "archive the selection to SQLite on exit")
	f.StringVar(&o.selection, "selection", string(domain.SelectVisible), "export selection: pinned, visible or all")
	return cmd
}

func (o *watchOptions) filterConfig() domain.FilterConfig {
	cfg := domain.FilterConfig{
		URLTerms:      filter.ParseTerms(o.urlFilter),
		StatusCodes:   filter.ParseCodes(o.codes),
		Methods:       map[string]bool{},
		ResourceTypes: map[string]bool{filter.TypePing: o.showPing},
	}
	for _, m := range o.hideMethods {
		cfg.Methods[m] = false
	}
	for _, t := range o.hideTypes {
		cfg.ResourceTypes[t] = false
	}
	return cfg
}

func runWatch(cmd *cobra.Command, root *rootOptions, o *watchOptions) error {
	sel := domain.Selection(o.selection)
	if !sel.Valid() {
		return fmt.Errorf("unknown selection %q", o.selection)
	}
	if o.capacity > 0 {
		root.cfg.Monitor.Capacity = o.capacity
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if o.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.duration)
		defer cancel()
	}

	svc := service.New(root.cfg, root.log)
	defer svc.Close()

	id, err := svc.StartSession(ctx, domain.SessionConfig{DevToolsURL: o.devtoolsURL, Target: domain.TargetID(o.target)})
	if err != nil {
		return err
	}
	status, _ := svc.SubscribeStatus(id)
	changes, _ := svc.SubscribeChanges(id)

	out := cmd.OutOrStdout()
	fcfg := o.filterConfig()
	printed := make(map[domain.RequestID]bool)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case evt := <-status:
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s %s\n", evt.State, evt.Message, evt.Error)
			if evt.State == cdp.StatusStopped {
				break loop
			}
		case <-changes:
			recs, err := svc.Snapshot(id, fcfg)
			if err != nil {
				return err
			}
			printSettled(out, recs, printed)
		}
	}

	return finish(context.Background(), cmd, svc, id, sel, fcfg, o)
}

// printSettled 只输出首次进入终态且响应体已有结果的记录
func printSettled(w io.Writer, recs []domain.RequestRecord, printed map[domain.RequestID]bool) {
	for _, r := range recs {
		if printed[r.ID] || !r.State.Terminal() || r.ResponseBody.Kind == traffic.BodyPending {
			continue
		}
		printed[r.ID] = true
		fmt.Fprintln(w, formatLine(r))
	}
}

func finish(ctx context.Context, cmd *cobra.Command, svc *service.Service, id domain.SessionID, sel domain.Selection, fcfg domain.FilterConfig, o *watchOptions) error {
	out := cmd.OutOrStdout()
	if _, err := svc.Flush(id); err != nil {
		return err
	}
	stats, err := svc.Stats(id)
	if err == nil {
		recs, _ := svc.Snapshot(id, fcfg)
		renderRecords(out, recs, map[domain.RequestID]bool{})
		fmt.Fprintf(out, "stored=%d pending=%d overflow=%d evicted=%d malformed=%d reconnects=%d\n",
			stats.Stored, stats.Pending, stats.Overflow, stats.Evicted, stats.Malformed, stats.Reconnects)
	}

	if o.exportPath != "" {
		doc, err := svc.Export(id, sel, fcfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.exportPath, doc, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(out, "snapshot written to %s\n", o.exportPath)
	}
	if o.harPath != "" {
		doc, err := svc.ExportHAR(id, sel, fcfg)
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.harPath, doc, 0o644); err != nil {
			return fmt.Errorf("write har: %w", err)
		}
		fmt.Fprintf(out, "HAR written to %s\n", o.harPath)
	}
	if o.archive {
		archiveID, err := svc.Archive(ctx, id, sel, fcfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "archived as %s\n", archiveID)
	}
	return svc.StopSession(id)
}
