package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ramkansal/webscout/internal/config"
	"github.com/ramkansal/webscout/internal/logging"
	"github.com/ramkansal/webscout/internal/metrics"
	"github.com/ramkansal/webscout/internal/scraper"
)

var version = "1.0.0"

// cliFlags holds the options that only make sense on the command line.
// Everything else lives in config.Config.
type cliFlags struct {
	// Request
	fields []string
	method string
	class  string

	// Output
	output         string
	format         string
	includeContent bool
	silent         bool
	verbose        bool
	noColor        bool

	// Meta
	showHelp    bool
	showVersion bool
}

func registerCLIFlags(fs *pflag.FlagSet) *cliFlags {
	f := &cliFlags{}
	fs.StringSliceVarP(&f.fields, "fields", "F", nil, "Fields to extract (comma separated)")
	fs.StringVarP(&f.method, "method", "m", "", "Force one method; the last resort still follows")
	fs.StringVar(&f.class, "class", "", "Skip classification: STATIC, DYNAMIC, STRUCTURED, PROTECTED")
	fs.StringVarP(&f.output, "output", "o", "", "Write results to this file")
	fs.StringVar(&f.format, "format", "", "Output format: text, json, csv (default: from file extension)")
	fs.BoolVar(&f.includeContent, "include-content", false, "Include page content in JSON output")
	fs.BoolVarP(&f.silent, "silent", "s", false, "Suppress all output except errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "Show every attempt and extracted item")
	fs.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fs.BoolVarP(&f.showHelp, "help", "h", false, "Show this help message")
	fs.BoolVarP(&f.showVersion, "version", "V", false, "Show version")
	return f
}

func main() {
	enableANSI()

	args := os.Args[1:]
	command := "scrape"
	if len(args) > 0 {
		switch args[0] {
		case "serve", "methods", "version", "help":
			command, args = args[0], args[1:]
		}
	}

	fs := pflag.NewFlagSet("webscout", pflag.ContinueOnError)
	fs.SortFlags = false
	config.RegisterFlags(fs)
	f := registerCLIFlags(fs)
	fs.Usage = func() { printUsage(fs) }
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "%v (use --help for usage)\n", err)
		os.Exit(2)
	}
	if f.noColor || os.Getenv("NO_COLOR") != "" {
		noColor = true
	}

	if f.showVersion || command == "version" {
		fmt.Printf("webscout v%s\n", version)
		return
	}
	if f.showHelp || command == "help" {
		printUsage(fs)
		return
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fatal("%v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fatal("%v", err)
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New()
	sc, err := scraper.New(cfg,
		scraper.WithLogger(logger),
		scraper.WithMetrics(m),
	)
	if err != nil {
		fatal("initialization failed: %v", err)
	}
	defer sc.Close()
	logStartup(logger, cfg, sc)

	switch command {
	case "serve":
		err = serve(cfg, sc, m, logger)
	case "methods":
		err = listMethods(sc)
	default:
		if fs.NArg() == 0 {
			printUsage(fs)
			os.Exit(1)
		}
		err = scrape(cfg, sc, m, logger, f, fs.Args())
	}
	if err != nil {
		_ = sc.Close()
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		fatal("%v", err)
	}
}

// exitError ends the process with a status but no message.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// ---------- Help / banner ----------

func printUsage(fs *pflag.FlagSet) {
	printBanner()
	fmt.Printf(`
USAGE:
  webscout [flags] <url>...          scrape one or more URLs
  webscout serve [flags]             run the HTTP API
  webscout methods [flags]           list fetch methods and their availability

EXAMPLES:
  webscout https://example.com -F emails,links
  webscout example.com other.org -F headings -o out.json
  webscout --method browser --render-wait 5s https://spa.example.com
  SCRAPINGBEE_API_KEY=... webscout serve --addr :9090 --redis-addr localhost:6379

FLAGS:
%s
FIELDS:
  emails, phone_numbers, headings, links, social_links, metadata

`, fs.FlagUsages())
}

func printBanner() {
	art := `
  ╻ ╻┏━╸┏┓ ┏━┓┏━╸┏━┓╻ ╻╺┳╸
  ┃╻┃┣╸ ┣┻┓┗━┓┃  ┃ ┃┃ ┃ ┃
  ┗┻┛┗━╸┗━┛┗━┛┗━╸┗━┛┗━┛ ╹`
	fmt.Println(clr("cyan", art))
	fmt.Printf("  %s  %s\n", clr("dim", "Adaptive scraper with method fallback"), clr("dim", "v"+version))
	fmt.Printf("  %s\n", clr("dim", strings.Repeat("─", 46)))
}

// ---------- Utilities ----------

var noColor bool

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%ds", m, s)
}

var colors = map[string]string{
	"red":    "\033[31m",
	"green":  "\033[32m",
	"yellow": "\033[33m",
	"cyan":   "\033[36m",
	"dim":    "\033[2m",
	"bold":   "\033[1m",
}

func clr(color, text string) string {
	c, ok := colors[color]
	if !ok || noColor {
		return text
	}
	return c + text + "\033[0m"
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\n  %s %s\n\n", clr("red", "ERROR:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

// logStartup records the effective setup at debug level.
func logStartup(logger *zap.Logger, cfg *config.Config, sc *scraper.Scraper) {
	ids := make([]string, 0)
	for _, m := range sc.Methods() {
		if m.Available() {
			ids = append(ids, m.ID)
		}
	}
	fields := []zap.Field{
		zap.Strings("methods", ids),
		zap.Int("identities", len(sc.Identities())),
		zap.Int("concurrency", cfg.Concurrency),
		zap.Duration("budget", cfg.Budget),
	}
	if lr := sc.LastResort(); lr != nil {
		fields = append(fields, zap.String("last_resort", lr.ID))
	}
	logger.Debug("webscout ready", fields...)
}
