// Command dualdb opens the configured backend and runs one maintenance command:
//
//	dualdb [-config file] [-log-level level] [-profile dir] [-metrics] init
//	dualdb [flags] status
//	dualdb [flags] exec "SELECT * FROM categories WHERE slug = $1" vegetables
//
// The backend comes from the config file when given, then from the environment
// (DUALDB_BACKEND, USE_SQLITE, DATABASE_URL, ...).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/medatechnology/goutil/simplelog"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/medatechnology/dualdb"
	"github.com/medatechnology/dualdb/config"
	"github.com/medatechnology/dualdb/dispatch"
)

var errUsage = errors.New("usage: dualdb [-config file] [-log-level level] [-profile dir] [-metrics] init|status|exec <sql> [params...]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	if err != nil {
		simplelog.LogErr(err, "dualdb")
		os.Exit(1)
	}
}

// schemaEnsurer is implemented by every adapter in this module.
type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("dualdb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML or .properties config file")
	logLevel := fs.String("log-level", "", "debug, info, warn or error (overrides the config)")
	profileDir := fs.String("profile", "", "write a CPU profile to this directory")
	showMetrics := fs.Bool("metrics", false, "print query metrics to stderr before exiting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errUsage
	}

	if *profileDir != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(*profileDir), profile.NoShutdownHook).Stop()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.WithLogLevel(*logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l := logrus.New()
	l.SetOutput(stderr)
	l.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})
	logger := dualdb.NewLogrusLogger(l)
	logger.SetLevel(cfg.Level())

	db, err := dispatch.New(ctx, *cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if *showMetrics {
		defer db.WritePrometheus(stderr)
	}

	switch cmd := fs.Arg(0); cmd {
	case "init":
		se, ok := db.Adapter().(schemaEnsurer)
		if !ok {
			return fmt.Errorf("%s backend cannot create the schema", db.Name())
		}
		if err := se.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "schema ready on %s\n", cfg.Describe())
		return nil

	case "status":
		st, err := db.Status(ctx)
		if err != nil {
			return err
		}
		st.PrintPretty(stdout, "", "dualdb "+db.Name())
		return nil

	case "exec":
		if fs.NArg() < 2 {
			return errUsage
		}
		return execute(ctx, db, fs.Arg(1), fs.Args()[2:], stdout)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// execute runs one statement and prints each row as a JSON object on its own line,
// followed by a summary. The literal NULL as a parameter binds SQL NULL.
func execute(ctx context.Context, q dualdb.Querier, query string, args []string, w io.Writer) error {
	params := make([]any, len(args))
	for i, a := range args {
		if strings.EqualFold(a, "NULL") {
			continue
		}
		params[i] = a
	}

	res, err := q.Query(ctx, query, params...)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, row := range res.Rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "(%s, %d rows)\n", res.Command, res.RowCount)
	return nil
}
