package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/textrelay/textrelay/internal/channel/gmail"
	"github.com/textrelay/textrelay/internal/channel/twilio"
	"github.com/textrelay/textrelay/internal/query"
	"github.com/textrelay/textrelay/internal/relay"
	"github.com/textrelay/textrelay/internal/server"
	"github.com/textrelay/textrelay/pkg/config"
	"github.com/textrelay/textrelay/pkg/observability"
	"github.com/textrelay/textrelay/pkg/session"
)

// Version is set via ldflags.
var Version = "dev"

var configFile string

func main() {
	root := &cobra.Command{
		Use:   "textrelay",
		Short: "Relay SMS, WhatsApp, and email conversations to a query API",
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "config file path")

	root.AddCommand(serveCmd(), chatCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the Gmail poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			observability.InitMetrics()

			store, err := buildStore(ctx, cfg.Session)
			if err != nil {
				return fmt.Errorf("build session store: %w", err)
			}
			defer func() { _ = store.Close() }()

			health := observability.NewHealthChecker(Version)
			health.RegisterCheck(observability.PingCheck())
			if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
				health.RegisterCheck(observability.SessionStoreCheck(pinger.Ping))
			}

			chatResolver := session.NewResolver(store,
				session.WithGap(cfg.Session.ChatGap()),
				session.WithLogger(log))
			emailResolver := session.NewEmailResolver(store,
				session.WithEmailLogger(log))

			queryClient, err := query.NewClient(query.Config{
				BaseURL:           cfg.Query.BaseURL,
				APIKey:            cfg.Query.APIKey,
				Timeout:           time.Duration(cfg.Query.TimeoutSeconds) * time.Second,
				RequestsPerSecond: cfg.Query.RequestsPerSecond,
			})
			if err != nil {
				return fmt.Errorf("build query client: %w", err)
			}

			twilioClient, err := twilio.NewClient(twilio.ClientConfig{
				AccountSID:   cfg.Twilio.AccountSID,
				AuthToken:    cfg.Twilio.AuthToken,
				SMSFrom:      cfg.Twilio.SMSFrom,
				WhatsAppFrom: cfg.Twilio.WhatsAppFrom,
			})
			if err != nil {
				return fmt.Errorf("build twilio client: %w", err)
			}

			var (
				mailService *gmail.Service
				mailTx      relay.MailSender
			)
			if cfg.Gmail.Enabled {
				mailService, err = gmail.NewService(ctx, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile)
				if err != nil {
					return fmt.Errorf("build gmail service: %w", err)
				}
				mailTx = mailService
			}

			rel := relay.New(chatResolver, emailResolver, queryClient, twilioClient, mailTx, log)

			srv := server.New(server.Config{
				Port:            cfg.Port,
				TwilioAuthToken: cfg.Twilio.AuthToken,
				PublicURL:       os.Getenv("PUBLIC_URL"),
			}, rel, health, log)

			g, ctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				log.Info("starting webhook server", "port", cfg.Port, "version", Version)
				return srv.Start(ctx)
			})

			if cfg.Gmail.Enabled {
				poller := gmail.NewPoller(mailService, rel.HandleEmail, log)
				if err := poller.Start(ctx, cfg.Gmail.PollSchedule); err != nil {
					return fmt.Errorf("start gmail poller: %w", err)
				}
				g.Go(func() error {
					<-ctx.Done()
					poller.Stop()
					return nil
				})
				log.Info("gmail poller started", "schedule", cfg.Gmail.PollSchedule)
			}

			return g.Wait()
		},
	}
}

// chatCmd is a local REPL that runs messages through the real resolver and
// query client without Twilio, for development.
func chatCmd() *cobra.Command {
	var phone string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactively relay messages as a simulated SMS sender",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if cfg.Query.BaseURL == "" {
				return fmt.Errorf("query base_url is required")
			}

			observability.InitMetrics()

			store := session.NewMemoryStore()
			defer func() { _ = store.Close() }()

			resolver := session.NewResolver(store, session.WithGap(cfg.Session.ChatGap()))
			queryClient, err := query.NewClient(query.Config{
				BaseURL: cfg.Query.BaseURL,
				APIKey:  cfg.Query.APIKey,
			})
			if err != nil {
				return err
			}

			line := liner.NewLiner()
			defer func() { _ = line.Close() }()
			line.SetCtrlCAborts(true)

			fmt.Printf("chatting as %s; say %q to rotate the session; ctrl-c to quit\n",
				phone, session.NewSessionPhrase)

			for {
				text, err := line.Prompt("> ")
				if err != nil {
					return nil
				}
				if strings.TrimSpace(text) == "" {
					continue
				}
				line.AppendHistory(text)

				sessionID, err := resolver.Resolve(cmd.Context(), session.ChannelSMS, phone, text)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}

				reply, err := queryClient.Ask(cmd.Context(), sessionID, text)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}

				fmt.Printf("[%s] %s\n", sessionID, reply)
			}
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "+15550006789", "simulated sender number")
	return cmd
}

// buildStore constructs the configured session store backend.
func buildStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Store {
	case "memory":
		return session.NewMemoryStore(), nil

	case "redis":
		return session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

	case "dynamodb":
		return session.NewDynamoStore(ctx, session.DynamoConfig{
			Table:  cfg.DynamoTable,
			Region: cfg.AWSRegion,
		})

	case "firestore":
		return session.NewFirestoreStore(ctx, session.FirestoreConfig{
			ProjectID:       cfg.GCPProject,
			Collection:      cfg.FirestoreCollection,
			CredentialsFile: cfg.GCPCredentials,
		})

	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}
