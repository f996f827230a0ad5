// ABOUTME: Entry point for the fake market message service
// ABOUTME: Serves the HTTP contract over SQLite for local engine development

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/trovato-app/msgsync/internal/fakeservice"
	"github.com/trovato-app/msgsync/internal/marketstore"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8787", "listen address")
	dbPath := flag.String("db", "fake-market.db", "sqlite database path")
	seed := flag.Bool("seed", false, "seed two users and a product, then print their tokens")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	store, err := marketstore.NewSQLiteStore(*dbPath)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if *seed {
		if err := seedData(store); err != nil {
			logger.Error("failed to seed", "error", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           fakeservice.New(store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("fake market service listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// seedData creates a buyer, a seller, and one product so the engine has
// something to talk to out of the box.
func seedData(store *marketstore.SQLiteStore) error {
	ctx := context.Background()

	buyer, err := store.CreateUser(ctx, "buyer", "buyer-token")
	if err != nil {
		return fmt.Errorf("creating buyer: %w", err)
	}
	seller, err := store.CreateUser(ctx, "seller", "seller-token")
	if err != nil {
		return fmt.Errorf("creating seller: %w", err)
	}
	product, err := store.CreateProduct(ctx, "Vintage road bike", "https://img.example/bike.jpg")
	if err != nil {
		return fmt.Errorf("creating product: %w", err)
	}

	fmt.Printf("seeded buyer id=%d token=buyer-token\n", buyer.ID)
	fmt.Printf("seeded seller id=%d token=seller-token\n", seller.ID)
	fmt.Printf("seeded product id=%d (%s)\n", product.ID, product.Title)
	return nil
}
