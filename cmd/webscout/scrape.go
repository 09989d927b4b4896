package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/classifier"
	"github.com/ramkansal/webscout/internal/config"
	"github.com/ramkansal/webscout/internal/metrics"
	"github.com/ramkansal/webscout/internal/output"
	"github.com/ramkansal/webscout/internal/scraper"
	"github.com/ramkansal/webscout/pkg/plugin"
)

func scrape(cfg *config.Config, sc *scraper.Scraper, m *metrics.Metrics, logger *zap.Logger, f *cliFlags, targets []string) error {
	reqs, err := buildRequests(f, targets)
	if err != nil {
		return err
	}

	var w plugin.OutputWriter
	if f.output != "" {
		if w, err = output.New(f.format, f.output, f.includeContent); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	registerSignals(sig)
	go func() {
		<-sig
		fmt.Fprintf(os.Stderr, "\n\n%s Interrupt received, stopping...\n", clr("yellow", "!"))
		cancel()
	}()

	if addr := cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if !f.silent {
		budget := "none"
		if cfg.Budget > 0 {
			budget = fmtDur(cfg.Budget)
		}
		printBanner()
		fmt.Printf("\n  %s %d URL(s)\n", clr("cyan", "Targets:"), len(reqs))
		fmt.Printf("  %s %d  %s %s  %s %s  %s %s\n\n",
			clr("dim", "Concurrency:"), cfg.Concurrency,
			clr("dim", "Fields:"), orNone(f.fields),
			clr("dim", "Methods:"), availableMethods(sc),
			clr("dim", "Budget:"), budget,
		)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range sc.Events() {
			if f.silent {
				continue
			}
			handleEvent(event, f.verbose)
		}
	}()

	sum := sc.ScrapeAll(ctx, reqs, w)

	// Close stops the browsers and closes the event stream.
	if err := sc.Close(); err != nil {
		logger.Warn("closing methods", zap.Error(err))
	}
	<-done

	if w != nil {
		if err := w.Finalize(sum); err != nil {
			return fmt.Errorf("write %s: %w", f.output, err)
		}
	}
	if !f.silent {
		printSummary(sum, f.output)
	}
	if len(sum.Results) == 0 && len(sum.Failures) > 0 {
		return exitError(1)
	}
	return nil
}

func buildRequests(f *cliFlags, targets []string) ([]scraper.Request, error) {
	var class classifier.Class
	if f.class != "" {
		c, err := classifier.ParseClass(f.class)
		if err != nil {
			return nil, err
		}
		class = c
	}
	reqs := make([]scraper.Request, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		// Ensure URL has a scheme
		if !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
			t = "https://" + t
		}
		reqs = append(reqs, scraper.Request{
			URL:    t,
			Fields: f.fields,
			Method: f.method,
			Class:  class,
		})
	}
	if len(reqs) == 0 {
		return nil, errors.New("no URL given")
	}
	return reqs, nil
}

func handleEvent(event plugin.Event, verbose bool) {
	switch event.Type {
	case plugin.EventPlanned:
		if verbose {
			fmt.Printf("  %s %s %s\n", clr("dim", "→"), event.URL, clr("dim", "plan: "+event.Message))
		}

	case plugin.EventAttemptDone:
		if !verbose || event.Attempt == nil {
			return
		}
		a := event.Attempt
		label := a.Outcome.Label()
		switch a.Outcome {
		case plugin.OutcomeSuccess:
			label = clr("green", label)
		case plugin.OutcomeRateLimited:
			label = clr("yellow", label)
		default:
			label = clr("red", label)
		}
		status := ""
		if a.Status > 0 {
			status = fmt.Sprintf(" %d", a.Status)
		}
		fmt.Printf("      %s %s #%d %s%s %s\n",
			clr("dim", "·"), a.Method, a.Attempt, label, status, clr("dim", "("+fmtDur(a.Duration)+")"))

	case plugin.EventMethodAdvanced:
		if verbose {
			fmt.Printf("      %s advancing to %s\n", clr("yellow", "↪"), event.Method)
		}

	case plugin.EventScrapeDone:
		if event.Result == nil {
			return
		}
		r := event.Result
		status := fmt.Sprintf("%d", r.StatusCode)
		switch {
		case r.StatusCode >= 200 && r.StatusCode < 300:
			status = clr("green", status)
		case r.StatusCode >= 300 && r.StatusCode < 400:
			status = clr("yellow", status)
		default:
			status = clr("red", status)
		}
		fmt.Printf("  %s [%s] %s %s %s %s\n",
			clr("green", "●"),
			status,
			r.SourceURL,
			clr("dim", "via "+r.Method),
			clr("dim", "("+fmtDur(r.Elapsed)+")"),
			fieldCountStr(r.Fields),
		)
		if verbose {
			for _, name := range sortedFields(r.Fields) {
				for _, item := range r.Fields[name] {
					fmt.Printf("      %s %s\n", clr("dim", "├─ "+item.Type+":"), item.Value)
				}
			}
		}

	case plugin.EventScrapeFailed:
		var se *plugin.ScrapeError
		if errors.As(event.Error, &se) {
			fmt.Printf("  %s [%s] %s %s\n",
				clr("red", "✗"), clr("red", string(se.Code)), event.URL,
				clr("dim", strings.Join(se.Outcomes(), " ")))
			if se.Err != nil && se.Code == plugin.CodeInvalidRequest {
				fmt.Printf("      %s\n", clr("dim", se.Err.Error()))
			}
			return
		}
		fmt.Printf("  %s %s %v\n", clr("red", "✗"), event.URL, event.Error)
	}
}

func printSummary(sum *plugin.Summary, outputPath string) {
	items := 0
	byField := make(map[string]int)
	for _, r := range sum.Results {
		for name, list := range r.Fields {
			byField[name] += len(list)
			items += len(list)
		}
	}

	fmt.Println()
	fmt.Printf("  %s\n", strings.Repeat("─", 50))
	fmt.Printf("  %s Scrape complete\n", clr("green", "✓"))
	fmt.Printf("    URLs:   %s scraped, %s failed in %s\n",
		clr("cyan", fmt.Sprintf("%d", len(sum.Results))),
		clr("red", fmt.Sprintf("%d", len(sum.Failures))),
		fmtDur(sum.Duration),
	)
	if len(byField) > 0 {
		names := make([]string, 0, len(byField))
		for name := range byField {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s:%s", clr("dim", name), clr("cyan", fmt.Sprintf("%d", byField[name]))))
		}
		fmt.Printf("    Items:  %s extracted (%s)\n", clr("yellow", fmt.Sprintf("%d", items)), strings.Join(parts, ", "))
	}
	if outputPath != "" {
		fmt.Printf("    Output: %s\n", clr("green", outputPath))
	}
	fmt.Println()
}

func fieldCountStr(fields map[string][]plugin.ExtractedItem) string {
	if len(fields) == 0 {
		return ""
	}
	var parts []string
	for _, name := range sortedFields(fields) {
		parts = append(parts, fmt.Sprintf("%s:%d", name, len(fields[name])))
	}
	return clr("dim", "["+strings.Join(parts, " ")+"]")
}

func sortedFields(fields map[string][]plugin.ExtractedItem) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func availableMethods(sc *scraper.Scraper) string {
	var ids []string
	for _, m := range sc.Methods() {
		if m.Available() {
			ids = append(ids, m.ID)
		}
	}
	return orNone(ids)
}

func orNone(xs []string) string {
	if len(xs) == 0 {
		return "none"
	}
	return strings.Join(xs, ",")
}
