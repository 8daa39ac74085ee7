package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/hub"
	"github.com/mdouchement/chestsync/internal/server"
	"github.com/mdouchement/chestsync/internal/service"
	"github.com/muesli/coral"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	initCmd = &coral.Command{
		Use:   "init",
		Short: "Init the database",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := config()
			if err != nil {
				return err
			}

			return database.StormInit(dbnameWithPath(konf.String("database_path")))
		},
	}

	//
	reindexCmd = &coral.Command{
		Use:   "reindex",
		Short: "Reindex the database and recount all structures",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := config()
			if err != nil {
				return err
			}

			return database.StormReIndex(dbnameWithPath(konf.String("database_path")))
		},
	}

	//
	sweepTTL time.Duration
	sweepCmd = &coral.Command{
		Use:   "sweep",
		Short: "Delete the expired chest history",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := config()
			if err != nil {
				return err
			}

			ttl := konf.Duration("history_ttl")
			if sweepTTL > 0 {
				ttl = sweepTTL
			}

			db, err := database.StormOpen(dbnameWithPath(konf.String("database_path")))
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			n, err := service.NewRetention(db, ttl, 0).Sweep(time.Now(), ttl)
			logrus.WithField("deleted", n).Info("sweep done")
			return err
		},
	}

	//
	//
	serverCmd = &coral.Command{
		Use:   "server",
		Short: "Start server",
		Args:  coral.ExactArgs(0),
		RunE: func(_ *coral.Command, _ []string) error {
			konf, err := config()
			if err != nil {
				return err
			}

			db, err := database.StormOpen(dbnameWithPath(konf.String("database_path")))
			if err != nil {
				return errors.Wrap(err, "could not open database")
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h := hub.New(service.NewQuery(db), konf.Int("hub.queue_size"))
			defer h.Close()

			retention := service.NewRetention(db, konf.Duration("history_ttl"), konf.Duration("retention_interval"))
			go retention.Run(ctx)

			engine := server.EchoEngine(server.IOC{
				Version:      version,
				Database:     db,
				Hub:          h,
				Legacy:       konf.Bool("legacy.enabled"),
				PingInterval: konf.Duration("hub.ping_interval"),
			})
			engine.HideBanner = true
			server.PrintRoutes(engine)

			go func() {
				<-ctx.Done()
				logrus.Info("Shutting down")
				h.Close()

				shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := engine.Shutdown(shutdown); err != nil {
					logrus.WithError(err).Error("could not shutdown server")
				}
			}()

			address := konf.String("address")
			message := "could not run server"
			logrus.Infof("Server listening on %s", address)
			parts := strings.Split(address, ":")
			if len(parts) == 2 && parts[0] == "unix" {
				socketFile := parts[1]
				if _, err := os.Stat(socketFile); err == nil {
					logrus.Infof("Removing existing %s", socketFile)
					os.Remove(socketFile)
				}
				defer os.Remove(socketFile)
				listener, err := net.Listen(parts[0], socketFile)
				if err != nil {
					return err
				}
				return ignoreClosed(errors.Wrap(engine.Server.Serve(listener), message))
			}
			return ignoreClosed(errors.Wrap(engine.Start(address), message))
		},
	}
)

func init() {
	sweepCmd.Flags().DurationVar(&sweepTTL, "ttl", 0, "History time-to-live (overrides history_ttl)")
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
