package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"btbridge/internal/config"
	"btbridge/internal/domain"
	"btbridge/internal/gateway"
	apphttp "btbridge/internal/http"
	"btbridge/internal/orchestrator"
	"btbridge/internal/store"
	sqlitestore "btbridge/internal/store/sqlite"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	app := &cli.Command{
		Name:  "btbridge",
		Usage: "Download torrents and mirror them to cloud storage",
		Commands: []*cli.Command{
			authCommand(logger),
			addCommand(logger),
			listCommand(),
			startCommand(logger),
			removeCommand(logger),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Fatalf("%v", err)
	}
}

func authCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Run the cloud storage authentication flow",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			uploader, err := buildUploader(ctx, cfg, true, logger)
			if err != nil {
				return err
			}
			if err := uploader.Authenticate(ctx); err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			fmt.Println("authentication successful")
			return nil
		},
	}
}

func addCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a download task from a magnet URI or .torrent file",
		ArgsUsage: "<source>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "source"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			source := cmd.StringArg("source")
			if source == "" {
				return fmt.Errorf("source argument is required")
			}
			if err := gateway.ValidateSource(source); err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if existing, err := st.FindBySource(ctx, source); err == nil {
				return fmt.Errorf("source already tracked by task %s (%s)", existing.ID, existing.State)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			now := time.Now()
			task := domain.Task{
				ID:        uuid.NewString(),
				Source:    source,
				State:     domain.TaskStatePending,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := st.Save(ctx, &task); err != nil {
				return err
			}
			logger.WithField("task_id", task.ID).Info("task added")
			fmt.Println(task.ID)
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all tasks with state, progress and last error",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := st.List(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tPROGRESS\tNAME\tERROR")
			for _, task := range tasks {
				name := task.Name
				if name == "" {
					name = truncate(task.Source, 60)
				}
				fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\n",
					task.ID, task.State, task.Progress, name, task.ErrorMessage)
			}
			return w.Flush()
		},
	}
}

func startCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Run the polling service (and the control API when configured)",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Polling interval, overrides the configured value",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			interval := cfg.Service.Interval
			if v := cmd.Duration("interval"); v > 0 {
				interval = v
			}

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			downloader, err := gateway.NewTorrentDownloader(gateway.TorrentConfig{
				DataDir:         cfg.Download.DataDir,
				TrackerList:     cfg.Download.Trackers,
				NoUpload:        cfg.Download.NoUpload,
				MaxDownloadRate: cfg.Download.MaxDownloadRate,
				MaxUploadRate:   cfg.Download.MaxUploadRate,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			defer downloader.Close()

			uploader, err := buildUploader(ctx, cfg, false, logger)
			if err != nil {
				return err
			}
			if err := uploader.EnsureAuthenticated(ctx); err != nil {
				logger.Warnf("cloud storage not authenticated yet, uploads will wait: %v", err)
			}

			orch := orchestrator.New(orchestrator.Config{
				RemoteFolder:    cfg.Upload.Folder,
				MaxRetries:      cfg.Service.MaxRetries,
				PurgeOnComplete: cfg.Service.PurgeOnComplete,
				Logger:          logger,
			}, st, downloader, uploader)

			var srv *http.Server
			if cfg.Server.Addr != "" {
				gin.SetMode(gin.ReleaseMode)
				router := gin.New()
				router.Use(gin.Recovery())
				handler := apphttp.NewHandler(st, orch, apphttp.AuthConfig{
					JWTSecret:    cfg.Auth.JWTSecret,
					PasswordHash: cfg.Auth.PasswordHash,
					TokenTTL:     cfg.Auth.TokenTTL,
				})
				handler.RegisterRoutes(router)

				srv = &http.Server{Addr: cfg.Server.Addr, Handler: router}
				go func() {
					logger.Infof("control api listening on %s", cfg.Server.Addr)
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Errorf("http server: %v", err)
					}
				}()
			}

			runErr := orch.Run(ctx, interval)

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Warnf("http shutdown: %v", err)
				}
			}
			return runErr
		},
	}
}

func removeCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Stop tracking a task, optionally deleting its local data",
		ArgsUsage: "<task-id>",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "id"},
		},
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "purge",
				Usage: "Also delete downloaded files",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.StringArg("id")
			if id == "" {
				return fmt.Errorf("task id argument is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			downloader, err := gateway.NewTorrentDownloader(gateway.TorrentConfig{
				DataDir:         cfg.Download.DataDir,
				TrackerList:     cfg.Download.Trackers,
				NoUpload:        cfg.Download.NoUpload,
				MaxDownloadRate: cfg.Download.MaxDownloadRate,
				MaxUploadRate:   cfg.Download.MaxUploadRate,
				Logger:          logger,
			})
			if err != nil {
				return err
			}
			defer downloader.Close()

			orch := orchestrator.New(orchestrator.Config{Logger: logger}, st, downloader, nil)
			task, err := orch.Remove(ctx, id, cmd.Bool("purge"))
			if err != nil {
				return err
			}
			logger.WithField("task_id", task.ID).Info("task removed")
			return nil
		},
	}
}

func buildStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return sqlitestore.Open(ctx, cfg.Store.Path)
	default:
		return store.NewFileStore(cfg.Store.Path)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
