package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/assetdesk/assetdesk/internal/app"
	"github.com/assetdesk/assetdesk/internal/catalog"
	"github.com/assetdesk/assetdesk/internal/codegen"
	"github.com/assetdesk/assetdesk/internal/inventory"
	"github.com/assetdesk/assetdesk/internal/masterdata/categories"
	mdshared "github.com/assetdesk/assetdesk/internal/masterdata/shared"
	"github.com/assetdesk/assetdesk/internal/platform/db"
	"github.com/assetdesk/assetdesk/internal/shared"
	"github.com/assetdesk/assetdesk/migrations"
)

type seedItem struct {
	category string
	name     string
	unit     string
	price    string
	stock    int64
	minStock int64
	maxStock int64
	location string
}

var seedCategories = []categories.Input{
	{Code: "PPR", Name: "Paper", Description: "Printing and writing paper"},
	{Code: "WRT", Name: "Writing Tools", Description: "Pens, pencils and markers"},
	{Code: "FIL", Name: "Filing", Description: "Folders, binders and clips"},
	{Code: "INK", Name: "Ink & Toner", Description: "Printer consumables"},
}

var seedItems = []seedItem{
	{"PPR", "Kertas HVS A4 70gsm", "rim", "48000", 40, 10, 80, "Gudang A-1"},
	{"PPR", "Kertas HVS F4 70gsm", "rim", "52000", 12, 10, 60, "Gudang A-1"},
	{"WRT", "Pulpen Hitam 0.5", "pcs", "3500", 150, 50, 400, "Lemari B-2"},
	{"WRT", "Spidol Whiteboard Biru", "pcs", "9000", 4, 10, 60, "Lemari B-2"},
	{"FIL", "Map Plastik Kancing", "pcs", "2500", 80, 20, 200, "Lemari B-3"},
	{"FIL", "Paper Clip No. 3", "box", "4000", 25, 10, 50, "Lemari B-3"},
	{"INK", "Toner Laser 85A", "pcs", "650000", 2, 2, 8, "Gudang A-2"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, AppName: "assetdesk-seed"})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Applying migrations...")
	if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	categoryService := categories.NewService(categories.NewRepository(pool), nil, logger)
	catalogService := catalog.NewService(catalog.NewRepository(pool), codegen.NewGenerator(logger, nil), nil, nil, logger, catalog.Config{
		DefaultMinStock: cfg.DefaultMinStock,
		DefaultMaxStock: cfg.DefaultMaxStock,
		CodeRetries:     cfg.CodeRetries,
		Policy:          inventory.Policy{AllowNegativeStock: cfg.AllowNegativeStock},
	})

	fmt.Println("→ Seeding categories...")
	ids, err := seedCategoryData(ctx, categoryService)
	if err != nil {
		log.Fatalf("seed categories: %v", err)
	}

	fmt.Println("→ Seeding items...")
	if err := seedItemData(ctx, catalogService, ids); err != nil {
		log.Fatalf("seed items: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedCategoryData(ctx context.Context, svc *categories.Service) (map[string]int64, error) {
	existing, err := svc.List(ctx, mdshared.ListFilters{})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(existing))
	for _, c := range existing {
		ids[c.Code] = c.ID
	}
	for _, in := range seedCategories {
		if _, ok := ids[in.Code]; ok {
			continue
		}
		created, err := svc.Create(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Code, err)
		}
		ids[created.Code] = created.ID
	}
	return ids, nil
}

func seedItemData(ctx context.Context, svc *catalog.Service, categoryIDs map[string]int64) error {
	for _, it := range seedItems {
		existing, err := svc.ListItems(ctx, catalog.ListFilter{Search: it.name})
		if err != nil {
			return err
		}
		if containsItem(existing, it.name) {
			continue
		}
		minStock, maxStock := it.minStock, it.maxStock
		item, err := svc.CreateItem(ctx, catalog.CreateInput{
			Name:       it.name,
			CategoryID: categoryIDs[it.category],
			Unit:       it.unit,
			UnitPrice:  decimal.RequireFromString(it.price),
			Stock:      it.stock,
			MinStock:   &minStock,
			MaxStock:   &maxStock,
			Location:   it.location,
			CreatedBy:  "seed",
		})
		if errors.Is(err, shared.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", it.name, err)
		}
		fmt.Printf("  %s %s (stock %d)\n", item.Code, item.Name, item.Stock)
	}
	return nil
}

func containsItem(items []catalog.Item, name string) bool {
	for _, item := range items {
		if strings.EqualFold(item.Name, name) {
			return true
		}
	}
	return false
}
