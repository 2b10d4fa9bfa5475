/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the demand planning engine server: configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Open the SQLite store
  3. Wire the planning service and HTTP handler
  4. Start the server with graceful shutdown

CONFIGURATION:
  -port    HTTP server port        (env PORT, default 8080)
  -db      SQLite database path    (env DATABASE_PATH, default plan.db;
                                    use ":memory:" for throwaway runs)
  -seed    enable POST /api/seed   (dev only)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop accepting connections, wait up to 30s for
  in-flight requests, close the database, exit.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/crest/planning-engine/api"
	"github.com/crest/planning-engine/engine"
	"github.com/crest/planning-engine/planning"
	"github.com/crest/planning-engine/store/sqlite"
)

func main() {
	// .env is optional; flags override it.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "plan.db"), "SQLite database path")
	seed := flag.Bool("seed", false, "enable the demo-data seed endpoint")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	service := planning.NewService(store, store)
	handler := api.NewHandler(service)
	if *seed {
		handler.Seed = func(r *http.Request) error {
			return seedDemoData(r.Context(), store)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Planning engine listening on http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// seedDemoData loads a small two-customer, two-product plan so the grid
// has something to show on a fresh database.
func seedDemoData(ctx context.Context, store *sqlite.Store) error {
	year := time.Now().UTC().Year()
	attrs := map[engine.ProductID]engine.UnitMultipliers{
		"P1": {KG: decimal.NewFromFloat(0.5), Revenue: decimal.NewFromFloat(12.99)},
		"P2": {KG: decimal.NewFromFloat(1.25), Revenue: decimal.NewFromFloat(7.50)},
	}
	for p, m := range attrs {
		if err := store.UpsertAttributes(ctx, p, m); err != nil {
			return err
		}
	}

	customers := []engine.CustomerKey{"C1", "C2"}
	base := map[engine.CustomerKey]int64{"C1": 100, "C2": 50}
	for _, customer := range customers {
		for month := time.January; month <= time.December; month++ {
			rec := engine.ForecastRecord{
				Product:      "P1",
				Customer:     customer,
				Location:     "L1",
				Date:         time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
				Forecast:     decimal.NewFromInt(base[customer] + int64(month)),
				Actual:       decimal.NewFromInt(base[customer] / 2),
				DaysOfSupply: decimal.NewFromInt(14),
			}
			if err := store.InsertForecast(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}
