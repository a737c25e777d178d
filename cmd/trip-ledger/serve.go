package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/trip-ledger/internal/receipt"
)

func newServeCommand(a *app, parent *ff.FlagSet) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	fs.IntVar(&a.cfg.Port, 0, "port", a.cfg.Port, "HTTP server port")
	fs.StringVar(&a.cfg.AuthUser, 0, "auth-user", "", "basic auth username (optional)")
	fs.StringVar(&a.cfg.AuthPass, 0, "auth-pass", "", "basic auth password (optional)")

	return &ff.Command{
		Name:      "serve",
		Usage:     "trip-ledger serve [--port N]",
		ShortHelp: "serve the ledger JSON API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			p, err := a.newPipeline(ctx)
			if err != nil {
				return err
			}
			defer p.Close()

			server := receipt.NewServer(p.service, receipt.BasicAuth{
				Username: a.cfg.AuthUser,
				Password: a.cfg.AuthPass,
			})
			if a.cfg.AuthUser != "" {
				slog.Info("Basic auth enabled", "user", a.cfg.AuthUser)
			}
			return server.Start(ctx, fmt.Sprintf(":%d", a.cfg.Port))
		},
	}
}
