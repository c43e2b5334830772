// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// rawtenantaccess runs the raw tenant access consistency harness against
// an embedded store.
package main

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rohankumardubey/foundationdb/pkg/kv/kvstore"
	"github.com/rohankumardubey/foundationdb/pkg/rawtenant"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type options struct {
	tenantCount int
	duration    time.Duration
	seed        int64
	storeDir    string
}

func (opts *options) addFlags(flags *pflag.FlagSet) {
	flags.IntVar(&opts.tenantCount, "tenant-count", 1000,
		"total address space of tenant slots")
	flags.DurationVar(&opts.duration, "duration", 120*time.Second,
		"wall-clock budget for the driver loop")
	flags.Int64Var(&opts.seed, "seed", 0,
		"random seed; 0 picks a fresh one")
	flags.StringVar(&opts.storeDir, "store-dir", "",
		"store directory; empty runs an in-memory store")
}

// logrusLogger adapts logrus to the harness Logger interface.
type logrusLogger struct {
	log *logrus.Logger
}

func (l logrusLogger) Helper() {}

func (l logrusLogger) Logf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
}

func main() {
	var opts options
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cmd := &cobra.Command{
		Use:           "rawtenantaccess",
		Short:         "randomized consistency test of tenant-access enforcement",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), log, opts)
		},
	}
	opts.addFlags(cmd.Flags())

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logrus.Logger, opts options) error {
	var store *kvstore.Store
	var err error
	if opts.storeDir == "" {
		store, err = kvstore.OpenInMemory(nil)
	} else {
		store, err = kvstore.Open(opts.storeDir, nil)
	}
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	registry := prometheus.NewRegistry()
	env := &rawtenant.Env{
		DB:      store,
		L:       logrusLogger{log: log},
		Metrics: rawtenant.NewMetrics(registry),
	}
	failures, err := rawtenant.RunRawTenantAccess(ctx, env, rawtenant.Config{
		TenantCount:  opts.tenantCount,
		TestDuration: opts.duration,
		Seed:         opts.seed,
	})
	if err != nil {
		return err
	}
	logMetrics(log, registry)
	if len(failures) > 0 {
		for _, f := range failures {
			log.Errorf("oracle failure: %+v", f)
		}
		return errors.Newf("%d oracle failures", len(failures))
	}
	log.Info("no oracle failures")
	return nil
}

// logMetrics dumps the final counter values.
func logMetrics(log *logrus.Logger, registry *prometheus.Registry) {
	families, err := registry.Gather()
	if err != nil {
		log.Warnf("gathering metrics: %v", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				log.WithField("value", c.GetValue()).Info(mf.GetName())
			}
		}
	}
}
