package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/itam/internal/adapter/storage"
	"github.com/rl1809/itam/internal/config"
	"github.com/rl1809/itam/internal/core/domain"
	"github.com/rl1809/itam/internal/core/service"
)

const (
	seatCount     = 20
	totalRequests = 50
	assetRequests = 40
)

func main() {
	configPath := flag.String("config", "", "config file; an in-memory SQLite store is used when empty")
	flag.Parse()

	ctx := context.Background()
	store, err := openStore(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	users := make([]domain.User, totalRequests)
	for i := range users {
		users[i] = domain.User{ID: fmt.Sprintf("stress-user-%d", i), EmployeeNo: fmt.Sprintf("S%04d", i), Name: "Stress user", Active: true}
	}
	err = store.SeedMasterData(ctx, storage.MasterData{
		Users:      users,
		Locations:  []domain.Location{{ID: "stress-loc", Code: "ST", Name: "Stress lab"}},
		Categories: []domain.Category{{ID: "stress-cat", Code: "NB", Name: "Notebook", UsefulLifeMonths: 36}},
	})
	if err != nil {
		log.Fatalf("failed to seed: %v", err)
	}

	svc := service.NewLifecycleService(store, domain.PolicyStrict, zap.NewNop())

	ok := seatRace(ctx, svc, store, users)
	ok = identifierRace(ctx, svc) && ok
	if !ok {
		log.Fatal("stress test failed")
	}
}

func openStore(ctx context.Context, path string) (*storage.SQLStore, error) {
	if path == "" {
		return storage.OpenMemory(ctx, zap.NewNop())
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// seatRace fires more seat requests than the license owns under the strict
// policy. Exactly seatCount must succeed.
func seatRace(ctx context.Context, svc *service.LifecycleService, store *storage.SQLStore, users []domain.User) bool {
	license, err := svc.CreateLicense(ctx, "stress", service.NewLicense{
		SoftwareName:  "Stress Suite",
		TotalQuantity: seatCount,
		ManagerID:     users[0].ID,
	})
	if err != nil {
		log.Fatalf("failed to create license: %v", err)
	}

	var successCount, capacityCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			_, err := svc.AssignLicense(ctx, "stress", license.ID, userID, "")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrCapacity):
				capacityCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("unexpected error for %s: %v", userID, err)
			}
		}(u.ID)
	}
	wg.Wait()
	elapsed := time.Since(start)

	final, err := store.GetLicense(ctx, license.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to reload license: %v", err)
	}
	seats, err := store.ListActiveLicenseAssignments(ctx, license.ID)
	if err != nil {
		log.Fatalf("failed to list seats: %v", err)
	}

	fmt.Println("=========== SEAT RACE RESULTS ===========")
	fmt.Printf("Seats Owned:      %d\n", seatCount)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Assigned:         %d\n", successCount.Load())
	fmt.Printf("Rejected:         %d\n", capacityCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	pass := true
	if successCount.Load() == seatCount && capacityCount.Load() == totalRequests-seatCount {
		fmt.Printf("PASS: exactly %d seats assigned, %d rejected\n", seatCount, totalRequests-seatCount)
	} else {
		fmt.Printf("FAIL: expected %d/%d, got %d/%d\n",
			seatCount, totalRequests-seatCount, successCount.Load(), capacityCount.Load())
		pass = false
	}
	if final.UsedQuantity == len(seats) && final.AvailableQuantity == 0 {
		fmt.Printf("PASS: used %d matches active seats, available 0\n", final.UsedQuantity)
	} else {
		fmt.Printf("FAIL: used %d, active seats %d, available %d\n", final.UsedQuantity, len(seats), final.AvailableQuantity)
		pass = false
	}
	return pass
}

// identifierRace registers assets concurrently under one prefix and checks
// that every generated identifier is unique.
func identifierRace(ctx context.Context, svc *service.LifecycleService) bool {
	var (
		mu          sync.Mutex
		identifiers = make(map[string]int)
		failures    atomic.Int32
		wg          sync.WaitGroup
	)
	purchase := domain.DateOf(time.Now())

	for i := 0; i < assetRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			asset, err := svc.CreateAsset(ctx, "stress", service.NewAsset{
				Name:         "Stress notebook",
				LocationID:   "stress-loc",
				CategoryID:   "stress-cat",
				ManagerID:    "stress-user-0",
				PurchaseDate: purchase,
			})
			if err != nil {
				failures.Add(1)
				log.Printf("create asset: %v", err)
				return
			}
			mu.Lock()
			identifiers[asset.Identifier]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	fmt.Println("========= IDENTIFIER RACE RESULTS =========")
	fmt.Printf("Requests:         %d\n", assetRequests)
	fmt.Printf("Unique IDs:       %d\n", len(identifiers))
	fmt.Printf("Failures:         %d\n", failures.Load())
	fmt.Println("==========================================")

	for id, n := range identifiers {
		if n > 1 {
			fmt.Printf("FAIL: identifier %s issued %d times\n", id, n)
			return false
		}
	}
	if failures.Load() != 0 || len(identifiers) != assetRequests {
		fmt.Println("FAIL: not every registration produced an identifier")
		return false
	}
	fmt.Printf("PASS: %d unique identifiers\n", len(identifiers))
	return true
}
