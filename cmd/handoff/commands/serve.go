package commands

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"handoff/internal/app"
	"handoff/internal/config"
	"handoff/internal/logging"
)

func serveCmd() *cobra.Command {
	var (
		baseURL    string
		tokenTTL   time.Duration
		sessionTTL time.Duration
		maxMB      int64
		sweepEvery time.Duration
		adminAPI   bool
		webdav     bool
		thumbs     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the background reaper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := cmd.Flags()
			if f.Changed("base-url") {
				cfg.BaseURL = baseURL
			}
			if f.Changed("token-ttl") {
				cfg.TokenTTL = config.Duration(tokenTTL)
			}
			if f.Changed("session-ttl") {
				cfg.SessionTTL = config.Duration(sessionTTL)
			}
			if f.Changed("max-upload-mb") {
				cfg.MaxUploadBytes = maxMB << 20
			}
			if f.Changed("sweep-interval") {
				cfg.SweepInterval = config.Duration(sweepEvery)
			}
			if f.Changed("admin-api") {
				cfg.AdminAPI = adminAPI
			}
			if f.Changed("webdav") {
				cfg.WebDAV = webdav
			}
			if f.Changed("thumbnails") {
				cfg.Thumbnails = thumbs
			}

			log := logging.New(cfg.LogLevel, cfg.LogFormat)
			a, err := app.New(cfg, log)
			if err != nil {
				log.WithError(err).Error("startup failed")
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return a.Run(ctx)
		},
	}
	f := cmd.Flags()
	f.StringVar(&baseURL, "base-url", "", "public URL prefix used in generated links")
	f.DurationVar(&tokenTTL, "token-ttl", 30*time.Minute, "upload token lifetime")
	f.DurationVar(&sessionTTL, "session-ttl", 24*time.Hour, "download session lifetime")
	f.Int64Var(&maxMB, "max-upload-mb", 50, "upload size limit in MiB")
	f.DurationVar(&sweepEvery, "sweep-interval", 5*time.Minute, "reaper interval (0 disables the background reaper)")
	f.BoolVar(&adminAPI, "admin-api", false, "mount the loopback-only admin API")
	f.BoolVar(&webdav, "webdav", false, "serve sessions read-only over WebDAV at /dav/<id>/")
	f.BoolVar(&thumbs, "thumbnails", true, "render image thumbnails in session pages")
	return cmd
}
