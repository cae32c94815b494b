package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ingesthub/ingesthub/internal/api"
	"github.com/ingesthub/ingesthub/internal/catalog"
	"github.com/ingesthub/ingesthub/internal/database"
	"github.com/ingesthub/ingesthub/internal/event"
	"github.com/ingesthub/ingesthub/internal/ingest"
	"github.com/ingesthub/ingesthub/internal/media"
	"github.com/ingesthub/ingesthub/pkg/logger"
	"github.com/jmoiron/sqlx"
)

var log = logger.Get("Core")

type (
	RunnableService interface {
		Run(context.Context) error
	}

	// IngestHub represents the top-level object for the server, and is
	// responsible for initialising the stores, services, event handling
	// and the REST gateway.
	IngestHub struct {
		eventBus event.EventCoordinator
		config   IngestHubConfig

		catalogStore *catalog.Store

		restGateway   RunnableService
		ingestService *ingest.Service
	}
)

func New(config IngestHubConfig) *IngestHub {
	log.Emit(logger.DEBUG, "Bootstrapping IngestHub services using config: %#v\n", config)
	hub := &IngestHub{
		eventBus:     event.New(),
		config:       config,
		catalogStore: catalog.NewStore(),
	}

	activity := func(e event.Event, payload event.Payload) {
		log.Emit(logger.INFO, "Activity %s: %v\n", e, payload)
	}
	hub.eventBus.RegisterAsyncHandlerFunction(event.IngestStartedEvent, activity)
	hub.eventBus.RegisterAsyncHandlerFunction(event.IngestCompleteEvent, activity)
	hub.eventBus.RegisterAsyncHandlerFunction(event.IngestFailedEvent, activity)
	hub.eventBus.RegisterAsyncHandlerFunction(event.PackageSweptEvent, activity)

	return hub
}

// Run will start IngestHub by bringing up the database connection and
// services. This function will not return until IngestHub is stopped; to
// stop it, the provided context must be cancelled.
func (hub *IngestHub) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	db := database.New()
	if err := db.Connect(hub.config.Database); err != nil {
		return err
	}

	if err := hub.recoverStalePackages(db); err != nil {
		return err
	}

	hub.ingestService = ingest.New(
		database.NewTxProvider(db.GetSqlxDb()),
		hub.catalogStore,
		media.NewProber(hub.config.Media.FfprobeBinPath),
		media.NewGenerator(hub.config.Media),
		hub.eventBus,
		hub.config.Ingest,
	)
	hub.restGateway = api.NewRestGateway(&hub.config.Rest, hub.ingestService)

	wg := &sync.WaitGroup{}
	hub.spawnAsyncService(ctx, wg, hub.restGateway, "rest-gateway", crashHandler)
	log.Emit(logger.SUCCESS, "IngestHub services spawned!\n")

	wg.Wait()
	return nil
}

// recoverStalePackages flips packages abandoned mid-ingest by a previous
// crash to 'error' and announces each over the event bus.
func (hub *IngestHub) recoverStalePackages(db database.Manager) error {
	return db.WrapTx(func(tx *sqlx.Tx) error {
		swept, err := hub.catalogStore.SweepStaleProcessingPackages(tx)
		if err != nil {
			return err
		}

		for _, packageID := range swept {
			hub.eventBus.Dispatch(event.PackageSweptEvent, packageID)
		}

		return nil
	})
}

// spawnAsyncService will run the provided function/service as its own
// go-routine, ensuring that the service waitgroup is updated correctly.
func (hub *IngestHub) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service.Run(ctx); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}
