package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mtr002/docjobs/internal/api"
	"github.com/mtr002/docjobs/internal/db"
	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/jobs"
	"github.com/mtr002/docjobs/internal/logger"
	"github.com/mtr002/docjobs/internal/nats"
	"github.com/mtr002/docjobs/internal/notify"
	"github.com/mtr002/docjobs/internal/remote"
	"github.com/mtr002/docjobs/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

var (
	flagType    string
	flagAction  string
	flagPayload string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the job service: HTTP API, websocket feed and optional NATS intake",
	RunE:  doServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "apply the PostgreSQL migrations and exit",
	RunE:  doMigrate,
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "submit a job to a running service over NATS and print its id",
	RunE:  doSubmit,
}

func doServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Logger.Info().
		Str("store", cfg.StoreDriver).
		Bool("nats", cfg.UseNATS).
		Msg("Starting docjobs")

	store, ready, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	dispatcher := remote.NewDispatcher(
		remote.NewClient(cfg.RequestTimeout, cfg.RemoteAPIKey),
		cfg.RemoteBaseURL,
		cfg.ProviderURLs,
	)
	notes := notify.New(cfg.NotificationTTL)
	defer notes.Clear()

	sup, err := jobs.New(jobs.Options{
		Store:         store,
		Executor:      dispatcher,
		Notifications: notes,
		MaxWorkers:    cfg.MaxWorkers,
	})
	if err != nil {
		return err
	}

	n, err := sup.Recover(ctx)
	if err != nil {
		sup.Close()
		return err
	}
	logger.Logger.Info().Int("count", n).Msg("Recovered unfinished jobs")

	hub := websocket.NewHub()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Forward(gctx, sup.Bus())
		return nil
	})

	if cfg.UseNATS {
		ns, err := nats.NewServer(cfg.NATSURL, sup)
		if err != nil {
			sup.Close()
			return err
		}
		defer ns.Close()
		if err := ns.Subscribe(); err != nil {
			sup.Close()
			return err
		}
		g.Go(func() error {
			nats.Forward(gctx, ns.Conn(), sup.Bus())
			return nil
		})
	}

	server := api.NewServer(sup, hub, ready, cfg.HTTPPort, cfg.CORSOrigins)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Logger.Info().Msg("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		sup.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Logger.Info().Msg("Server stopped")
	return nil
}

func doMigrate(cmd *cobra.Command, args []string) error {
	database, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		return err
	}
	logger.Logger.Info().Msg("Migrations applied")
	return nil
}

func doSubmit(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(flagPayload)) {
		return errors.New("--payload is not valid JSON")
	}

	client, err := nats.NewClient(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := client.SubmitJob(cmd.Context(), &nats.JobSubmissionMessage{
		Type:    interfaces.JobType(flagType),
		Action:  flagAction,
		Payload: json.RawMessage(flagPayload),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}
