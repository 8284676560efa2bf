package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"trafficmonitor/internal/config"
	"trafficmonitor/internal/models"
	"trafficmonitor/internal/repository/sqlite"
	"trafficmonitor/internal/services/storage"
)

func main() {
	cfg := config.Load()
	snapshotsDir := flag.String("snapshots", cfg.SnapshotDirectory, "Directory containing snapshots")
	dbPath := flag.String("db", cfg.SnapshotDatabase, "Database path")
	reset := flag.Bool("reset", false, "Drop existing index records before scanning")
	flag.Parse()

	fmt.Printf("Indexing snapshots from %s into %s\n", *snapshotsDir, *dbPath)

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	repo := sqlite.NewSnapshotRepository(db)

	if *reset {
		if err := repo.DeleteAll(); err != nil {
			log.Fatalf("Failed to reset index: %v", err)
		}
	}

	files, err := os.ReadDir(*snapshotsDir)
	if err != nil {
		log.Fatalf("Failed to read snapshots directory: %v", err)
	}

	var snaps []models.Snapshot
	skipped := 0
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}

		name, err := storage.ParseSnapshotName(file.Name())
		if err != nil {
			log.Printf("⚠️  Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		info, err := file.Info()
		if err != nil {
			log.Printf("⚠️  Failed to get info for %s: %v", file.Name(), err)
			skipped++
			continue
		}

		snaps = append(snaps, models.Snapshot{
			Filename:  file.Name(),
			Camera:    name.Camera,
			Timestamp: name.Timestamp,
			FilePath:  filepath.Join(*snapshotsDir, file.Name()),
			FileSize:  info.Size(),
			Labels:    name.Labels,
		})
	}

	if len(snaps) == 0 {
		fmt.Println("No snapshots found to index")
		return
	}

	inserted, err := repo.InsertBatch(snaps)
	if err != nil {
		log.Fatalf("Failed to index snapshots: %v", err)
	}

	fmt.Printf("✅ Indexed %d new snapshot(s), %d already present\n", inserted, len(snaps)-inserted)
	if skipped > 0 {
		fmt.Printf("⚠️  Skipped %d files (invalid format or errors)\n", skipped)
	}

	stats, err := repo.GetStats()
	if err == nil {
		fmt.Printf("\n📊 Index Statistics:\n")
		fmt.Printf("   Total snapshots: %d\n", stats.TotalSnapshots)
		fmt.Printf("   Total size: %d bytes\n", stats.TotalSizeBytes)
		cameras := make([]string, 0, len(stats.PerCamera))
		for camera := range stats.PerCamera {
			cameras = append(cameras, camera)
		}
		sort.Strings(cameras)
		fmt.Printf("   Per camera:\n")
		for _, camera := range cameras {
			fmt.Printf("      - %s: %d snapshots\n", camera, stats.PerCamera[camera])
		}
	}
}
