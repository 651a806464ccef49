/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package main

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/HamedShams/jira-pulse/internal/config"
    api "github.com/HamedShams/jira-pulse/internal/http"
    "github.com/HamedShams/jira-pulse/internal/jobs"
    "github.com/spf13/cobra"
    "golang.org/x/sync/errgroup"
)

type flags struct {
    config   string
    addr     string
    logFile  string
    logLevel string
}

// apply lets command line flags win over the environment.
func (f flags) apply(cfg *config.Config) {
    if f.config != "" { cfg.MonitoringFile = f.config }
    if f.addr != "" { cfg.HTTPAddr = f.addr }
    if f.logFile != "" { cfg.LogFile = f.logFile }
    if f.logLevel != "" { cfg.LogLevel = f.logLevel }
}

func main() {
    if err := newRootCmd().Execute(); err != nil {
        fmt.Fprintln(os.Stderr, err)
        os.Exit(1)
    }
}

func newRootCmd() *cobra.Command {
    var f flags
    root := &cobra.Command{
        Use:           "jira-pulse",
        Short:         "Scheduled Jira health reports delivered to Telegram",
        SilenceUsage:  true,
        SilenceErrors: true,
        RunE: func(cmd *cobra.Command, args []string) error {
            return serve(cmd.Context(), f)
        },
    }
    pf := root.PersistentFlags()
    pf.StringVarP(&f.config, "config", "c", "", "monitoring rules file (yaml, json or ini)")
    pf.StringVar(&f.logFile, "log-file", "", "write logs to this file")
    pf.StringVarP(&f.logLevel, "log-level", "d", "", "log level: debug, info, warn, error, critical")
    root.Flags().StringVarP(&f.addr, "addr", "p", "", "http listen address")

    root.AddCommand(newReportCmd(&f))
    return root
}

func newReportCmd(f *flags) *cobra.Command {
    var project string
    var send bool
    cmd := &cobra.Command{
        Use:   "report",
        Short: "Generate the report once and print it",
        RunE: func(cmd *cobra.Command, args []string) error {
            cfg := config.Load()
            f.apply(&cfg)
            log := setupLogger(cfg)
            ctx := cmd.Context()
            a, err := newApp(ctx, cfg, log)
            if err != nil { return err }
            defer a.close()

            rep, err := a.gen.Generate(ctx, project)
            if err != nil { return err }
            if rep.Empty() {
                fmt.Fprintln(cmd.OutOrStdout(), "no report")
                return nil
            }
            fmt.Fprint(cmd.OutOrStdout(), rep.Text)
            if !send { return nil }
            if err := a.tg.Validate(); err != nil { return err }
            return a.tg.Notify(ctx, rep.Text)
        },
    }
    cmd.Flags().StringVar(&project, "project", "", "only this project id")
    cmd.Flags().BoolVar(&send, "send", false, "also deliver the report to the configured chats")
    return cmd
}

func serve(parent context.Context, f flags) error {
    cfg := config.Load()
    f.apply(&cfg)
    log := setupLogger(cfg)
    if parent == nil { parent = context.Background() }
    ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
    defer stop()

    a, err := newApp(ctx, cfg, log)
    if err != nil { fatalStartup(log, err) }
    defer a.close()
    if err := a.tg.Validate(); err != nil { fatalStartup(log, err) }
    if err := a.openStore(ctx); err != nil { fatalStartup(log, err) }

    sched, err := jobs.New(jobs.NewWeekly(a.mon.Frequency), a.gen, a.tg, a.store, log)
    if err != nil { return err }
    sched.WithRunTimeout(cfg.RunTimeout)
    if a.pg != nil { sched.WithLock(a.pg) }

    router, err := api.NewRouter(cfg, a.mon, log, a.gen, a.store)
    if err != nil { fatalStartup(log, err) }
    srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

    g, gctx := errgroup.WithContext(ctx)
    g.Go(func() error { return sched.Run(gctx) })
    g.Go(func() error {
        log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) { return err }
        return nil
    })
    g.Go(func() error {
        <-gctx.Done()
        log.Info().Msg("shutting down...")
        sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second); defer cancel()
        return srv.Shutdown(sctx)
    })
    return g.Wait()
}
