package main

import (
	"net/http"

	"github.com/spf13/cobra"

	"feed_relay/internal/dispatch"
	"feed_relay/internal/fetcher"
	"feed_relay/internal/transform"
	"feed_relay/internal/translate"
	"feed_relay/internal/webhook"
)

func (a *app) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Fetch all feeds and deliver unread entries once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := a.reg.LoadSettings(cmd.Context())
			if err != nil {
				return err
			}

			client := &http.Client{Timeout: a.cfg.HTTPTimeout}
			deepl := translate.New(client, func() string { return settings.DeepLAuthKey }, a.cfg.DeepLAPIURL)
			disp := dispatch.New(
				a.store,
				fetcher.NewUpdater(a.store, fetcher.New(client), a.log),
				a.reg,
				transform.NewEngine(deepl, a.log),
				webhook.NewSender(client, webhook.WithTimeout(a.cfg.HTTPTimeout)),
				a.log,
				dispatch.WithWorkers(a.cfg.FeedWorkers),
			)
			return disp.Run(cmd.Context(), settings)
		},
	}
}
