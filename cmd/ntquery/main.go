package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/goccy/go-json"
	"github.com/icodeforyou/netztransparenz-go/config"
	"github.com/icodeforyou/netztransparenz-go/endpoint"
	"github.com/icodeforyou/netztransparenz-go/fetch"
	"github.com/icodeforyou/netztransparenz-go/logging"
	"github.com/icodeforyou/netztransparenz-go/netztransparenz"
	"github.com/icodeforyou/netztransparenz-go/timerange"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "", "path to config file, credentials are read from IPNT_CLIENT_ID/IPNT_CLIENT_SECRET otherwise")
	from := flag.String("from", "", "start of the range, RFC 3339, 2006-01-02T15:04:05 (UTC) or 2006-01-02")
	to := flag.String("to", "", "end of the range, same formats as -from")
	raw := flag.Bool("raw", false, "keep the date, time and zone columns")
	strict := flag.Bool("strict", false, "fail on an invalid range instead of printing an empty table")
	partial := flag.Bool("partial", false, "keep successful sub-ranges when others fail")
	year := flag.Int("year", 0, "year of a static endpoint")
	transpose := flag.Bool("transpose", false, "transpose endpoints that support it")
	maxSpan := flag.Duration("max-span", 0, "longest range of a single request")
	asJSON := flag.Bool("json", false, "print JSON instead of ';' separated text")
	list := flag.Bool("list", false, "list the known endpoints and exit")
	verbose := flag.Bool("v", false, "log debug output to stderr")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: ntquery [flags] <endpoint>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(logging.Console(os.Stderr, level)))

	if err := run(*configPath, *list, *asJSON, *maxSpan, flag.Arg(0), *from, *to, fetch.Options{
		Strict:      *strict,
		Materialize: !*raw,
		Partial:     *partial,
		Transpose:   *transpose,
		Year:        *year,
	}); err != nil {
		slog.Error("query failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string, list, asJSON bool, maxSpan time.Duration, name, from, to string, opts fetch.Options) error {
	cfg, registry, err := clientConfig(configPath)
	if err != nil {
		return err
	}
	if list {
		for _, n := range registry.Names() {
			d := registry.MustLookup(n)
			fmt.Printf("%-50s %-8s %s\n", n, d.Mode, d.Path)
		}
		return nil
	}
	if name == "" {
		flag.Usage()
		return fmt.Errorf("no endpoint given")
	}
	if maxSpan > 0 {
		cfg.MaxSpan = maxSpan
	}

	f, err := parseTime(from)
	if err != nil {
		return err
	}
	t, err := parseTime(to)
	if err != nil {
		return err
	}

	client, err := netztransparenz.New(cfg, netztransparenz.WithRegistry(registry))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tbl, err := client.QueryWith(ctx, name, f, t, opts)
	if err != nil {
		return err
	}
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(tbl)
	}
	_, err = os.Stdout.WriteString(tbl.Format(";"))
	return err
}

func clientConfig(path string) (netztransparenz.Config, *endpoint.Registry, error) {
	if path != "" {
		c, err := config.Load(path)
		if err != nil {
			return netztransparenz.Config{}, nil, err
		}
		r, err := c.Netztransparenz.Registry()
		return c.Netztransparenz.ClientConfig("ntquery"), r, err
	}
	// A missing .env is fine.
	_ = godotenv.Load()
	return netztransparenz.Config{
		ClientID:     os.Getenv("IPNT_CLIENT_ID"),
		ClientSecret: os.Getenv("IPNT_CLIENT_SECRET"),
	}, endpoint.Default(), nil
}

// parseTime leaves the range open for static endpoints, which ignore it.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return timerange.ParseInstant(s, time.UTC)
}
