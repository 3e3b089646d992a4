// exporter is a one-shot CLI that renders a protocol's cached analysis to
// stdout or a file. It reads the persisted result; it never recomputes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"protosignal/adapters/postgres"
	"protosignal/config"
	"protosignal/domain/core"
	"protosignal/internal/export"
)

func main() {
	protocolFlag := flag.String("protocol", "", "protocol ID to export (required)")
	formatFlag := flag.String("format", "json", "export format: json, csv, pdf-data, xlsx")
	outFlag := flag.String("out", "", "output file (default stdout)")
	flag.Parse()

	if *protocolFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	format, err := export.ParseFormat(*formatFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	protocolID, err := core.ParseProtocolID(*protocolFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := postgres.NewResultRepository(db)
	result, err := repo.Load(context.Background(), protocolID)
	if err != nil {
		if core.IsNotFoundError(err) {
			log.Fatalf("No analysis persisted for protocol %s - run the engine first", protocolID)
		}
		log.Fatalf("Failed to load result: %v", err)
	}

	data, err := export.NewFormatter().Export(result, format)
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	if *outFlag == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(*outFlag, data, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *outFlag, err)
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(data), *outFlag)
}
