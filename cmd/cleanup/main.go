package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/repolens/repolens/config"
	"github.com/repolens/repolens/internal/database"
	"github.com/repolens/repolens/internal/model"
	"github.com/repolens/repolens/internal/workspace"
)

var (
	dryRun          = flag.Bool("dry-run", true, "Dry run mode, don't actually delete anything")
	workspaceExpire = flag.Int("workspace-expire", 6, "Hours to keep orphaned analysis workspaces")
	resultExpire    = flag.Int("result-expire", 0, "Days to keep analysis results, 0 keeps them forever")
	cleanResults    = flag.Bool("clean-results", false, "Purge expired analysis results from the database")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	deletedSize := int64(0)
	deletedDirs := 0

	// 1. Orphaned workspaces. Normal pipelines remove their own
	// directory; anything this old belongs to a crashed process.
	log.Printf("\n📦 Cleaning orphaned workspaces (older than %d hours)...", *workspaceExpire)
	maxAge := time.Duration(*workspaceExpire) * time.Hour
	if *dryRun {
		size, count := listStaleWorkspaces(cfg.Analysis.TempDir, maxAge)
		deletedSize += size
		deletedDirs += count
	} else {
		count, err := workspace.NewManager(cfg.Analysis.TempDir).Sweep(maxAge)
		if err != nil {
			log.Printf("  ❌ Sweep failed: %v", err)
		}
		deletedDirs += count
	}

	// 2. Expired result rows.
	deletedRows := 0
	if *cleanResults && *resultExpire > 0 {
		log.Printf("\n🗄  Purging analysis results older than %d days...", *resultExpire)
		deletedRows = purgeExpiredResults(cfg, *resultExpire, *dryRun)
	}

	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Workspaces removed: %d", deletedDirs)
	if deletedSize > 0 {
		log.Printf("Freed space: %s", formatSize(deletedSize))
	}
	if *cleanResults {
		log.Printf("Result rows purged: %d", deletedRows)
	}
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - Nothing was actually deleted")
		log.Println("   Run with -dry-run=false to actually delete")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// listStaleWorkspaces reports what a real sweep would remove.
func listStaleWorkspaces(root string, maxAge time.Duration) (int64, int) {
	cutoff := time.Now().Add(-maxAge)
	var totalSize int64
	var count int

	entries, err := os.ReadDir(root)
	if err != nil {
		log.Printf("Failed to read workspace root: %v", err)
		return 0, 0
	}

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspace.DirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			size := getDirSize(filepath.Join(root, entry.Name()))
			totalSize += size
			count++
			log.Printf("  - %s (%.2f MB, %s old)",
				entry.Name(),
				float64(size)/1024/1024,
				time.Since(info.ModTime()).Round(time.Hour))
		}
	}

	log.Printf("Found %d stale workspaces (total: %s)", count, formatSize(totalSize))
	return totalSize, count
}

// purgeExpiredResults removes rows whose last update is older than the
// retention window. Results are recomputable from the source repositories.
func purgeExpiredResults(cfg *config.Config, keepDays int, dryRun bool) int {
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		return 0
	}

	cutoff := time.Now().Add(-time.Duration(keepDays) * 24 * time.Hour)

	if dryRun {
		var count int64
		if err := db.Model(&model.AnalysisResult{}).
			Where("updated_at < ?", cutoff).
			Count(&count).Error; err != nil {
			log.Printf("Failed to count expired results: %v", err)
			return 0
		}
		log.Printf("Would purge %d result rows", count)
		return int(count)
	}

	res := db.Where("updated_at < ?", cutoff).Delete(&model.AnalysisResult{})
	if res.Error != nil {
		log.Printf("Failed to purge results: %v", res.Error)
		return 0
	}
	log.Printf("Purged %d result rows", res.RowsAffected)
	return int(res.RowsAffected)
}

func getDirSize(path string) int64 {
	var size int64
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
