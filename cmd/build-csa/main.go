package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/passbi/passbi_core/internal/csabuild"
	"github.com/passbi/passbi_core/internal/db"
)

func main() {
	outDir := flag.String("out", "./csa-data", "directory to write connections.bin and stoplinks.bin into")
	routerDBGuid := flag.String("router-db-guid", "", "Guid of the road-network db the stop_road_link rows were snapped against (required)")

	flag.Parse()

	if *routerDBGuid == "" {
		fmt.Println("Usage: build-csa --router-db-guid=<guid> [--out=./csa-data]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	guid, err := uuid.Parse(*routerDBGuid)
	if err != nil {
		log.Fatalf("invalid --router-db-guid: %v", err)
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	log.Println("Connecting to database...")
	dbPool, err := db.GetDB()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	start := time.Now()

	builder := csabuild.NewBuilder(dbPool)
	result, err := builder.Build(ctx, guid)
	if err != nil {
		log.Fatalf("failed to build CSA stores: %v", err)
	}

	log.Printf("Build completed in %v", time.Since(start))
	log.Printf("Connections: %d  Transfers: %d  Stop links: %d  Stops: %d  Trips: %d",
		result.ConnectionCount, result.TransferCount, result.LinkCount, len(result.Stops), len(result.TripIDs))

	connPath := fmt.Sprintf("%s/connections.bin", *outDir)
	connFile, err := os.Create(connPath)
	if err != nil {
		log.Fatalf("failed to create %s: %v", connPath, err)
	}
	if err := result.Connections.Save(connFile); err != nil {
		connFile.Close()
		log.Fatalf("failed to write %s: %v", connPath, err)
	}
	if err := connFile.Close(); err != nil {
		log.Fatalf("failed to close %s: %v", connPath, err)
	}
	log.Printf("Wrote %s", connPath)

	linksPath := fmt.Sprintf("%s/stoplinks.bin", *outDir)
	linksFile, err := os.Create(linksPath)
	if err != nil {
		log.Fatalf("failed to create %s: %v", linksPath, err)
	}
	if err := result.StopLinks.Save(linksFile); err != nil {
		linksFile.Close()
		log.Fatalf("failed to write %s: %v", linksPath, err)
	}
	if err := linksFile.Close(); err != nil {
		log.Fatalf("failed to close %s: %v", linksPath, err)
	}
	log.Printf("Wrote %s", linksPath)

	log.Println("CSA store build complete")
}
