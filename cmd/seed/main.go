// Command main runs the database seeder for devpress.
package main

import (
	"context"
	"flag"
	"log"

	"devpress/internal/config"
	"devpress/internal/database"
	"devpress/internal/seed"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

func main() {
	numUsers := flag.Int("users", 20, "Number of users to create")
	postsPerUser := flag.Int("posts", 3, "Number of posts per user")
	maxDays := flag.Int("days", 90, "Spread post dates over this many days")
	shouldClean := flag.Bool("clean", false, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Generate data without writing it")
	scenario := flag.String("scenario", "", "YAML scenario file to apply; \"demo\" uses the built-in one")
	randSeed := flag.Int64("seed", 0, "Random seed, 0 picks one")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	opts := seed.Options{
		NumUsers:     *numUsers,
		PostsPerUser: *postsPerUser,
		MaxDays:      *maxDays,
		Clean:        *shouldClean,
		DryRun:       *dryRun,
		RandSeed:     *randSeed,
	}
	ctx := context.Background()

	var sum *seed.Summary
	if *scenario != "" {
		sum, err = applyScenario(ctx, db, *scenario, opts)
	} else {
		sum, err = seed.Seed(ctx, db, opts)
	}
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	out, _ := yaml.Marshal(sum)
	log.Printf("Seeding complete:\n%s", out)
}

func applyScenario(ctx context.Context, db *gorm.DB, path string, opts seed.Options) (*seed.Summary, error) {
	var (
		sc  *seed.Scenario
		err error
	)
	if path == "demo" {
		sc, err = seed.DemoScenario()
	} else {
		sc, err = seed.LoadScenario(path)
	}
	if err != nil {
		return nil, err
	}
	if opts.Clean && !opts.DryRun {
		if err := seed.Clean(db); err != nil {
			return nil, err
		}
	}
	return seed.ApplyScenario(ctx, db, sc, opts)
}
