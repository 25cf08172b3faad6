package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lspvic/yawxt/internal/config"
	"github.com/lspvic/yawxt/internal/menu"
	"github.com/lspvic/yawxt/internal/message"
	"github.com/lspvic/yawxt/internal/metrics"
	"github.com/lspvic/yawxt/internal/store"
	"github.com/lspvic/yawxt/internal/webhook"
	"github.com/lspvic/yawxt/internal/wechat"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "yawxt",
		Short: "yawxt: WeChat Official Account webhook responder",
		Long:  "yawxt serves a WeChat Official Account webhook and wraps the account's REST API.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.json (default: ~/.yawxt/config.json)")

	root.AddCommand(serveCmd())
	root.AddCommand(menuCmd())
	root.AddCommand(userCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}

func newClient(cfg *config.Config, collector *metrics.Collector) *wechat.Client {
	return wechat.NewClient(wechat.ClientConfig{
		AppID:   cfg.Account.AppID,
		Secret:  cfg.Account.Secret,
		Metrics: collector,
		Logger:  logger,
	})
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhook endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			collector := metrics.NewCollector()
			client := newClient(cfg, collector)

			handlers := message.Handlers{}
			if cfg.Store.Enabled {
				st, err := store.New(cfg.Store.DBPath, logger)
				if err != nil {
					return err
				}
				defer st.Close()
				handlers = store.Hooks(store.HooksConfig{
					Base:        handlers,
					Store:       st,
					Client:      client,
					UserRefresh: time.Duration(cfg.Store.UserRefreshHours) * time.Hour,
					Logger:      logger,
				})
				logger.Info("persistence enabled", "db", cfg.Store.DBPath)
			}

			dispatcher := message.NewDispatcher(message.DispatcherConfig{
				Handlers:  handlers,
				DebugEcho: cfg.Account.DebugEcho,
				Logger:    logger,
			})

			server := webhook.New(webhook.Config{
				Addr:        cfg.Server.Addr,
				Path:        cfg.Server.Path,
				Token:       cfg.Account.Token,
				MaxSkew:     time.Duration(cfg.Account.ClockSkewSeconds) * time.Second,
				Dispatcher:  dispatcher,
				Metrics:     metricsIfEnabled(cfg, collector),
				MetricsPath: cfg.Metrics.Endpoint,
				Logger:      logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}
}

func metricsIfEnabled(cfg *config.Config, collector *metrics.Collector) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return collector
}

func menuCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Manage the account's custom menu",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "push <menu.yaml>",
		Short: "Replace the custom menu from a YAML definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := menu.Load(args[0])
			if err != nil {
				return err
			}
			if err := newClient(cfg, nil).CreateMenu(cmd.Context(), m); err != nil {
				return err
			}
			fmt.Println("menu updated")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current custom menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			result, err := newClient(cfg, nil).Menu(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(result.Raw)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete the custom menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := newClient(cfg, nil).DeleteMenu(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("menu deleted")
			return nil
		},
	})

	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Inspect the account's followers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "info <openid>",
		Short: "Print a follower's profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			user, err := newClient(cfg, nil).GetUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("openid:     %s\nnickname:   %s\nsubscribed: %d\ncity:       %s %s %s\ntags:       %v\n",
				user.OpenID, user.Nickname, user.Subscribe,
				user.Country, user.Province, user.City, user.TagIDs())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "count",
		Short: "Print the total follower count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			count, err := newClient(cfg, nil).UserCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(count)
			return nil
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("yawxt", version)
		},
	}
}
