package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/threadscribe/internal/api"
	"github.com/threadscribe/internal/batchguard"
	"github.com/threadscribe/internal/config"
	"github.com/threadscribe/internal/database"
	"github.com/threadscribe/internal/eventstore"
	"github.com/threadscribe/internal/facts"
	"github.com/threadscribe/internal/flows"
	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/jobqueue"
	"github.com/threadscribe/internal/llm"
	"github.com/threadscribe/internal/logging"
	"github.com/threadscribe/internal/review"
	"github.com/threadscribe/internal/router"
	"github.com/threadscribe/internal/scopegate"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/tickets"
)

// ServeCommand returns the CLI command for starting the ingest server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the ThreadScribe ingest server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address for the API server",
			},
			&cli.BoolFlag{
				Name:  "in-memory",
				Usage: "Run with in-memory stores, no database (development only)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Server.LogLevel, cfg.Server.PrettyLogs)

	addr := cfg.Server.Addr
	if c.String("addr") != "" {
		addr = c.String("addr")
	}

	var (
		db        *sql.DB
		sessions  session.Store
		events    eventstore.Store
		factStore facts.Store
		reviews   review.Store
		artifacts review.ArtifactStore
		batches   batchguard.Store
		queue     *jobqueue.JobQueue
	)

	if c.Bool("in-memory") {
		log.Warn().Msg("running with in-memory stores, state is lost on restart")
		sessions = session.NewInMemoryStore()
		events = eventstore.NewInMemoryStore()
		factStore = facts.NewInMemoryStore()
		reviews = review.NewInMemoryStore()
		artifacts = review.NewInMemoryArtifactStore()
		batches = batchguard.NewInMemoryStore()
	} else {
		db, err = database.NewDB()
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := database.EnsureSchema(db); err != nil {
			return err
		}

		sessions = session.NewPostgresStore(db)
		events = eventstore.NewPostgresStore(db)
		factStore = facts.NewPostgresStore(db)
		reviews = review.NewPostgresStore(db)
		artifacts = review.NewPostgresArtifactStore(db)
		batches = batchguard.NewPostgresStore(db)

		dbURL, err := database.DatabaseURL()
		if err != nil {
			return err
		}
		queue, err = jobqueue.NewJobQueue(dbURL)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := queue.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer queue.Stop(context.Background())
	}

	connector, err := llm.NewConnector(context.Background(), llm.ConnectorOptions{
		Provider: llm.Provider(cfg.AI.Provider),
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		ModelConfig: llm.ModelConfig{
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create AI connector: %w", err)
	}
	client := llm.NewResilient(connector)

	factSvc := facts.NewService(factStore, facts.Budgets{
		Thread:  cfg.Facts.ThreadBudget,
		Epic:    cfg.Facts.EpicBudget,
		Channel: cfg.Facts.ChannelBudget,
	})

	engine := flows.NewEngine(flows.Config{
		Facts:        factSvc,
		Reviews:      review.NewLifecycle(reviews, artifacts, client),
		Artifacts:    artifacts,
		Gate:         scopegate.New(),
		Batches:      batches,
		TicketClient: tickets.NewHTTPClient(cfg.Tickets.BaseURL, cfg.Tickets.Token),
		Client:       client,
		ProjectKey:   cfg.Tickets.ProjectKey,
	})

	classifier := intent.NewClassifier(client, cfg.AI.ConfidenceThreshold)
	r := router.New(sessions, events, classifier, engine, factSvc)
	dispatcher := router.NewDispatcher(r, cfg.Server.WorkerQueue)
	defer dispatcher.Close()

	log.Info().Str("addr", addr).Str("provider", cfg.AI.Provider).Msg("starting ingest server")

	server := api.NewServer(addr, cfg.Server.AuthSecret, dispatcher, artifacts)
	return server.Start()
}
