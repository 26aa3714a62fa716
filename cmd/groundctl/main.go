package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"groundctl/api"
	"groundctl/api/middleware"
	"groundctl/db"
	"groundctl/internal/config"
	"groundctl/pkg/ontology"
	"groundctl/pkg/orchestrator"
	"groundctl/pkg/services/bridge"
	embeddednats "groundctl/pkg/services/embedded-nats"
	"groundctl/pkg/shared"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	} else {
		log.Println("Loaded configuration from .env file")
	}

	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration: ", err)
	}

	engine := orchestrator.New()

	// Optional sqlite persistence behind the state store.
	var dbService *db.Service
	if cfg.Persistence.Enabled {
		dbService, err = initDB(cfg)
		if err != nil {
			log.Fatal("Failed to initialize database: ", err)
		}
		defer dbService.Close()
		engine.State().EnablePersistence(dbService)
	}

	engine.Start()
	defer engine.Stop()

	// Optional embedded broker plus router bridge.
	var broker *embeddednats.EmbeddedNATS
	var br *bridge.Bridge
	if cfg.Broker.Enabled {
		broker, err = initBroker(cfg)
		if err != nil {
			log.Fatal("Failed to initialize NATS: ", err)
		}

		br = bridge.New(broker, engine.Router(), broker.JetStream(), bridge.Config{
			LocationRatePerSec: cfg.Bridge.LocationRatePerSec,
			LocationBurst:      cfg.Bridge.LocationBurst,
		})
		if err := br.Start(); err != nil {
			log.Fatal("Failed to start bridge: ", err)
		}
	}

	if cfg.Seed.Demo {
		seedDemo(engine)
	}

	mux := http.NewServeMux()
	handlers := api.NewHandlers(engine, cfg.Auth.Token)
	if dbService != nil {
		handlers.AddHealthCheck("database", dbService)
	}
	if broker != nil {
		handlers.AddHealthCheck("nats", healthFunc(broker.HealthCheck))
	}
	handlers.RegisterRoutes(mux)

	handler := middleware.CORS(middleware.RequestLogger(mux))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("Starting groundctl API server on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start: ", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown server gracefully: %v", err)
	}
	if br != nil {
		br.Stop()
	}
	if broker != nil {
		if err := broker.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown NATS: %v", err)
		}
	}

	log.Println("Shutdown complete")
}

func initDB(cfg *config.Config) (*db.Service, error) {
	dbCfg := db.DefaultConfig()
	dbCfg.DBPath = cfg.Persistence.DBPath

	service, err := db.New(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}

	if err := service.VerifySchema(); err != nil {
		log.Printf("Schema verification failed: %v", err)
		if err := service.InitializeSchema(); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return service, nil
}

func initBroker(cfg *config.Config) (*embeddednats.EmbeddedNATS, error) {
	broker := embeddednats.New(&embeddednats.Config{
		Port:         cfg.Broker.Port,
		DataDir:      cfg.Broker.DataDir,
		MaxMemory:    cfg.Broker.MaxMemory,
		MaxFileStore: cfg.Broker.MaxFileStore,
		Domain:       cfg.Broker.Domain,
	})
	if err := broker.Start(); err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	if err := broker.CreateStreams(); err != nil {
		return nil, fmt.Errorf("failed to create streams: %w", err)
	}
	if err := broker.CreateDurableConsumer(
		shared.StreamCommands, shared.ConsumerCommandProcessor, shared.SubjectCommandsAll,
	); err != nil {
		return nil, fmt.Errorf("failed to create command consumer: %w", err)
	}
	return broker, nil
}

// seedDemo loads a small sample world: two vehicles, a keep-out zone near the
// default home position, and a survey mission ready to validate.
func seedDemo(engine *orchestrator.Engine) {
	home := ontology.Location{Lat: 37.7749, Lon: -122.4194}

	engine.Fleet().Register(ontology.NewVehicle("V001", ontology.VehicleMultiRotor, home))
	engine.Fleet().Register(ontology.NewVehicle("V002", ontology.VehicleFixedWing,
		ontology.Location{Lat: 37.7849, Lon: -122.4094}))

	if err := engine.Geofencing().AddZone(&ontology.Geofence{
		ID:   "GF001",
		Name: "Downtown restricted zone",
		Type: ontology.ZoneKeepOut,
		Polygon: []ontology.Location{
			{Lat: 37.790, Lon: -122.410},
			{Lat: 37.795, Lon: -122.410},
			{Lat: 37.795, Lon: -122.405},
			{Lat: 37.790, Lon: -122.405},
		},
		Priority:    5,
		Active:      true,
		MaxAltitude: 500,
	}); err != nil {
		log.Printf("Demo seed: geofence rejected: %v", err)
	}

	mission := engine.CreateSurveyMission([]ontology.Location{
		{Lat: 37.7749, Lon: -122.4194},
		{Lat: 37.7771, Lon: -122.4194},
		{Lat: 37.7771, Lon: -122.4166},
		{Lat: 37.7749, Lon: -122.4166},
	}, 30, 50, 0.2)

	log.Printf("Demo seed loaded: 2 vehicles, 1 geofence, mission %s", mission.ID)
}

// healthFunc adapts a plain error-returning probe to the api.HealthChecker
// interface.
type healthFunc func() error

func (f healthFunc) Health() error { return f() }
