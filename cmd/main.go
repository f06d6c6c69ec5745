package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fleet-fuel-review/internal/api"
	"fleet-fuel-review/internal/config"
	"fleet-fuel-review/internal/db"
	"fleet-fuel-review/internal/downsample"
	"fleet-fuel-review/internal/logging"
	"fleet-fuel-review/internal/metrics"
	"fleet-fuel-review/internal/models"
	"fleet-fuel-review/internal/parser"
	"fleet-fuel-review/internal/review"
	"fleet-fuel-review/internal/session"
	"fleet-fuel-review/internal/temporal"
	"fleet-fuel-review/internal/windows"
)

var (
	cfgFile  string
	dbPath   string
	cfg      *config.Config
	database *db.Database
	store    *review.Store
	registry *metrics.Metrics
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fuel-review",
		Short: "Fuel-Drop Review Engine - Fleet fuel telemetry review",
		Long: `A CLI tool for reviewing suspected fuel drops in vehicle telemetry.
Downsamples fuel-level timelines, shades reviewed and suspicious intervals,
and records immutable operator decisions with SQLite storage and REST API access.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Database.Path = dbPath
			}
			return logging.Init(cfg.Log.Level, cfg.Log.Format)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "fleet_reviews.db", "Path to SQLite database")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(vehicleCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB opens the telemetry database and the review store over the
// configured repository
func initDB() error {
	p, err := temporal.NewParserForZone(cfg.Telemetry.Timezone)
	if err != nil {
		return err
	}

	database, err = db.New(cfg.Database.Path, db.WithParser(p))
	if err != nil {
		return err
	}

	registry, err = metrics.New()
	if err != nil {
		database.Close()
		return err
	}

	var repo review.Repository = database
	if cfg.Storage.Driver == "memory" {
		repo = review.NewMemoryRepository()
	}
	store = review.NewStore(repo,
		review.WithParser(p),
		review.WithMetrics(registry),
		review.WithPageSize(cfg.Reviews.PageSize),
	)
	return nil
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			server := api.NewServer(database, store,
				api.WithMetrics(registry),
				api.WithCORSOrigins(cfg.Server.CORSOrigins),
			)
			addr := fmt.Sprintf(":%d", cfg.Server.Port)

			fmt.Printf("🚀 Fuel-Drop Review API Server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s (reviews: %s)\n\n", cfg.Database.Path, cfg.Storage.Driver)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET  /health")
			fmt.Println("  GET  /metrics")
			fmt.Println("  GET  /api/v1/vehicles")
			fmt.Println("  GET  /api/v1/vehicles/{plate}")
			fmt.Println("  GET  /api/v1/telemetry")
			fmt.Println("  POST /api/v1/telemetry/batch")
			fmt.Println("  GET  /api/v1/timeline")
			fmt.Println("  GET  /api/v1/reviews")
			fmt.Println("  POST /api/v1/reviews")
			fmt.Println("  GET  /api/v1/reviews/{id}")
			fmt.Println("  GET  /api/v1/reviews/{id}/chain")
			fmt.Println("  GET  /api/v1/stats")
			fmt.Println()

			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				log.Info().Msg("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	return cmd
}

// ingestCmd ingests telemetry data from files
func ingestCmd() *cobra.Command {
	var format string
	var validate bool

	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest telemetry data from files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			p := parser.NewParser(format)
			totalRecords := 0
			totalErrors := 0

			for _, file := range args {
				fmt.Printf("Processing %s...\n", file)
				start := time.Now()

				records, err := p.ParseFile(file)
				if err != nil {
					fmt.Printf("  Error: %v\n", err)
					totalErrors++
					continue
				}

				// Validate if requested
				if validate {
					var valid []models.TelemetrySample
					for _, r := range records {
						if errs := parser.ValidateSample(&r); len(errs) == 0 {
							valid = append(valid, r)
						} else {
							totalErrors++
						}
					}
					records = valid
				}

				// Insert into database
				count, err := database.InsertTelemetryBatch(cmd.Context(), records)
				if err != nil {
					fmt.Printf("  Database error: %v\n", err)
					continue
				}

				elapsed := time.Since(start)
				fmt.Printf("  ✓ Inserted %d records in %v (%.0f records/sec)\n",
					count, elapsed, float64(count)/elapsed.Seconds())
				totalRecords += int(count)
			}

			fmt.Printf("\nTotal: %d records ingested", totalRecords)
			if totalErrors > 0 {
				fmt.Printf(", %d errors", totalErrors)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "File format (csv, json, log)")
	cmd.Flags().BoolVarP(&validate, "validate", "v", true, "Validate records before inserting")
	return cmd
}

// loadTimeline fetches and downsamples telemetry for plate together with
// the reviews overlapping it
func loadTimeline(ctx context.Context, plate, from, to string) ([]models.TimelineSample, []models.ReviewRecord, error) {
	raw, err := database.QueryTelemetry(ctx, models.TelemetryQuery{Plate: plate, FromDate: from, ToDate: to})
	if err != nil {
		return nil, nil, fmt.Errorf("query error: %w", err)
	}

	timeline := downsample.New(store.Parser()).Downsample(raw)
	registry.RecordTimeline(len(raw), len(timeline))

	q := models.ReviewQuery{Plate: plate}
	if len(timeline) > 0 {
		q.Interval = &models.Interval{Start: timeline[0].Timestamp, End: timeline[len(timeline)-1].Timestamp}
		for _, s := range timeline {
			q.Interval.Start = min(q.Interval.Start, s.Timestamp)
			q.Interval.End = max(q.Interval.End, s.Timestamp)
		}
	}
	reviews, err := store.Query(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("review query error: %w", err)
	}
	return timeline, reviews, nil
}

// timelineCmd prints a downsampled timeline with its bands
func timelineCmd() *cobra.Command {
	var plate, from, to, outputFormat string

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show the downsampled fuel timeline for a vehicle",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			start := time.Now()
			timeline, reviews, err := loadTimeline(cmd.Context(), plate, from, to)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			bands := windows.Compose(timeline, reviews)
			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"plate":   plate,
					"samples": timeline,
					"layers":  bands.Layers(),
				})
			default:
				fmt.Printf("Timeline for %s: %d samples, %d reviews (query time: %v)\n\n",
					plate, len(timeline), len(reviews), elapsed)
				printTimeline(os.Stdout, session.New(plate, timeline, reviews, store))
				fmt.Printf("\nUnreviewed windows: %d  Reviewed: %d  Suspicious: %d\n",
					len(bands.Unreviewed), len(bands.Reviewed), len(bands.Suspicious))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&plate, "plate", "P", "", "Vehicle plate")
	cmd.Flags().StringVar(&from, "from", "", "First date (DD/MM/YYYY)")
	cmd.Flags().StringVar(&to, "to", "", "Last date (DD/MM/YYYY)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	cmd.MarkFlagRequired("plate")
	return cmd
}

// splitStamp splits "DD/MM/YYYY HH:MM:SS" into date and clock
func splitStamp(s string) (string, string) {
	date, clock, _ := strings.Cut(strings.TrimSpace(s), " ")
	return date, strings.TrimSpace(clock)
}

func printReviews(records []models.ReviewRecord) {
	if len(records) == 0 {
		fmt.Println("No reviews found.")
		return
	}
	fmt.Printf("%-36s %-10s %-19s %-19s %8s %-20s\n", "ID", "Plate", "Start", "End", "Diff", "Decision")
	fmt.Println(strings.Repeat("-", 117))
	for _, r := range records {
		fmt.Printf("%-36s %-10s %-19s %-19s %8.1f %-20s\n",
			r.ID, r.Plate, r.StartDate+" "+r.StartTime, r.EndDate+" "+r.EndTime, r.FuelDiff, r.Decision)
		if r.Note != "" {
			fmt.Printf("     📝 %s\n", r.Note)
		}
		if r.RevisionOf != nil {
			fmt.Printf("     ↳ revises %s\n", *r.RevisionOf)
		}
	}
}

// reviewCmd manages review records
func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review record commands",
	}

	cmd.AddCommand(reviewListCmd(), reviewCreateCmd(), reviewChainCmd(), reviewSessionCmd())
	return cmd
}

func reviewListCmd() *cobra.Command {
	var plate, from, to, outputFormat string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reviews, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			q := models.ReviewQuery{Plate: plate, Limit: limit}
			if from != "" || to != "" {
				startTS, ok := store.Parser().Parse(splitStamp(from))
				if !ok {
					return fmt.Errorf("invalid --from %q (use \"DD/MM/YYYY HH:MM:SS\")", from)
				}
				endTS, ok := store.Parser().Parse(splitStamp(to))
				if !ok {
					return fmt.Errorf("invalid --to %q (use \"DD/MM/YYYY HH:MM:SS\")", to)
				}
				q.Interval = &models.Interval{Start: startTS, End: endTS}
			}

			records, err := store.Query(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}

			if outputFormat == "json" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			printReviews(records)
			return nil
		},
	}

	cmd.Flags().StringVarP(&plate, "plate", "P", "", "Filter by plate")
	cmd.Flags().StringVar(&from, "from", "", "Interval start (\"DD/MM/YYYY HH:MM:SS\")")
	cmd.Flags().StringVar(&to, "to", "", "Interval end (\"DD/MM/YYYY HH:MM:SS\")")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum records to return")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

func reviewCreateCmd() *cobra.Command {
	var d models.ReviewDraft
	var start, end, decision, revisionOf string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Record a review decision for an interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			d.StartDate, d.StartTime = splitStamp(start)
			d.EndDate, d.EndTime = splitStamp(end)
			d.Decision = models.Decision(decision)
			if revisionOf != "" {
				d.RevisionOf = &revisionOf
			}

			rec, err := store.Create(cmd.Context(), d)
			if err != nil {
				return err
			}

			fmt.Printf("✓ Created review %s\n", rec.ID)
			printReviews([]models.ReviewRecord{*rec})
			return nil
		},
	}

	cmd.Flags().StringVarP(&d.Plate, "plate", "P", "", "Vehicle plate")
	cmd.Flags().StringVar(&start, "start", "", "Interval start (\"DD/MM/YYYY HH:MM:SS\")")
	cmd.Flags().StringVar(&end, "end", "", "Interval end (\"DD/MM/YYYY HH:MM:SS\")")
	cmd.Flags().Float64Var(&d.FuelStart, "fuel-start", 0, "Fuel level at start")
	cmd.Flags().Float64Var(&d.FuelEnd, "fuel-end", 0, "Fuel level at end")
	cmd.Flags().StringVarP(&decision, "decision", "d", string(models.DecisionOK), "Decision")
	cmd.Flags().StringVarP(&d.Note, "note", "n", "", "Note (required for reviewed_suspicious)")
	cmd.Flags().StringVarP(&d.Reviewer, "reviewer", "r", os.Getenv("USER"), "Reviewer name")
	cmd.Flags().StringVar(&revisionOf, "revision-of", "", "Id of the review this one corrects")
	return cmd
}

func reviewChainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chain [review_id]",
		Short: "Show a review and every record it revises",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			chain, err := store.Chain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printReviews(chain)
			return nil
		},
	}
}

func reviewSessionCmd() *cobra.Command {
	var plate, from, to, reviewer string

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Interactively select and review intervals on a timeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			timeline, reviews, err := loadTimeline(cmd.Context(), plate, from, to)
			if err != nil {
				return err
			}
			if len(timeline) == 0 {
				fmt.Printf("No telemetry for %s. Use 'fuel-review generate' to create sample data.\n", plate)
				return nil
			}

			sess := session.New(plate, timeline, reviews, store)
			sess.SetDefaultReviewer(reviewer)
			return runSession(cmd.Context(), os.Stdin, os.Stdout, sess, store.Get)
		},
	}

	cmd.Flags().StringVarP(&plate, "plate", "P", "", "Vehicle plate")
	cmd.Flags().StringVar(&from, "from", "", "First date (DD/MM/YYYY)")
	cmd.Flags().StringVar(&to, "to", "", "Last date (DD/MM/YYYY)")
	cmd.Flags().StringVarP(&reviewer, "reviewer", "r", os.Getenv("USER"), "Reviewer name")
	cmd.MarkFlagRequired("plate")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}
			rs, err := store.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("error getting review stats: %w", err)
			}

			fmt.Println("📊 Fuel-Drop Review Statistics")
			fmt.Println("==============================")
			fmt.Printf("  Total Vehicles:     %v\n", stats["total_vehicles"])
			fmt.Printf("  Telemetry Records:  %v\n", stats["total_telemetry_records"])
			fmt.Printf("  Reviews:            %v\n", rs.Total)
			fmt.Printf("  Suspicious:         %v\n", rs.Suspicious)
			fmt.Printf("  Revisions:          %v\n", rs.Revisions)
			fmt.Printf("  Database:           %s\n", cfg.Database.Path)

			return nil
		},
	}
}

// generateSamples builds a day of minute-resolution telemetry per plate with
// occasional fuel drops while parked
func generateSamples(rng *rand.Rand, plates []string, day time.Time, minutes int) []models.TelemetrySample {
	statuses := []string{"moving", "moving", "moving", "idle", "parked"}
	var records []models.TelemetrySample

	for _, plate := range plates {
		fuel := 60 + rng.Float64()*40
		lat := 10.7769 + (rng.Float64()-0.5)*0.1 // Ho Chi Minh City area
		lon := 106.7009 + (rng.Float64()-0.5)*0.1
		status := "parked"

		for i := 0; i < minutes; i++ {
			at := day.Add(time.Duration(i) * time.Minute)
			if i%15 == 0 {
				status = statuses[rng.Intn(len(statuses))]
			}

			speed := 0.0
			switch status {
			case "moving":
				speed = 20 + rng.Float64()*60
				fuel -= 0.05 + rng.Float64()*0.05
				lat += (rng.Float64() - 0.5) * 0.002
				lon += (rng.Float64() - 0.5) * 0.002
			case "parked":
				if rng.Intn(200) == 0 {
					fuel -= 5 + rng.Float64()*10
				}
			}
			if fuel < 5 {
				fuel = 95 // refuel
			}

			records = append(records, models.TelemetrySample{
				Plate:     plate,
				Date:      at.Format("02/01/2006"),
				Time:      at.Format("15:04:05"),
				Speed:     speed,
				FuelLevel: fuel,
				Status:    status,
				Latitude:  lat,
				Longitude: lon,
			})
		}
	}
	return records
}

// generateCmd generates sample telemetry data
func generateCmd() *cobra.Command {
	var minutes int
	var vehicleCount int
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate sample telemetry data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			rng := rand.New(rand.NewSource(time.Now().UnixNano()))

			plates := make([]string, 0, vehicleCount)
			for i := 0; i < vehicleCount; i++ {
				plates = append(plates, fmt.Sprintf("%02d-%04d", 50+rng.Intn(50), rng.Intn(10000)))
			}
			fmt.Printf("Generating telemetry for %d vehicles\n", vehicleCount)

			day := time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
			records := generateSamples(rng, plates, day, minutes)

			// Insert in batches of 1000
			start := time.Now()
			batchSize := 1000
			inserted := 0

			for i := 0; i < len(records); i += batchSize {
				end := min(i+batchSize, len(records))
				count, err := database.InsertTelemetryBatch(cmd.Context(), records[i:end])
				if err != nil {
					return fmt.Errorf("insert error: %w", err)
				}
				inserted += int(count)
				fmt.Printf("\rInserted %d/%d records...", inserted, len(records))
			}

			elapsed := time.Since(start)
			fmt.Printf("\n✓ Generated %d telemetry records in %v (%.0f records/sec)\n",
				inserted, elapsed, float64(inserted)/elapsed.Seconds())
			fmt.Printf("  Plates: %s\n", strings.Join(plates, ", "))

			// Export to file if requested
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				if err := enc.Encode(records); err != nil {
					return fmt.Errorf("error exporting data: %w", err)
				}
				fmt.Printf("Data exported to %s\n", output)
			}

			return nil
		},
	}

	cmd.Flags().IntVarP(&minutes, "minutes", "m", 24*60, "Minutes of telemetry per vehicle")
	cmd.Flags().IntVarP(&vehicleCount, "vehicles", "n", 5, "Number of vehicles to generate")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export generated data to JSON file")
	return cmd
}

// vehicleCmd lists vehicles and their telemetry summaries
func vehicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vehicle",
		Short: "Vehicle commands",
	}

	// List subcommand
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all plates with telemetry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			plates, err := database.ListPlates(cmd.Context())
			if err != nil {
				return fmt.Errorf("error listing vehicles: %w", err)
			}

			if len(plates) == 0 {
				fmt.Println("No vehicles found. Use 'fuel-review generate' to create sample data.")
				return nil
			}

			for _, p := range plates {
				fmt.Println(p)
			}
			return nil
		},
	}

	// Summary subcommand
	summaryCmd := &cobra.Command{
		Use:   "summary [plate]",
		Short: "Show vehicle telemetry summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			start := time.Now()
			summary, err := database.GetVehicleSummary(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("error getting summary: %w", err)
			}
			elapsed := time.Since(start)

			fmt.Printf("📈 Telemetry Summary for %s (query: %v)\n", args[0], elapsed)
			fmt.Println("==========================================")
			fmt.Printf("  Total Records:    %d\n", summary.TotalRecords)
			fmt.Printf("  First Date:       %s\n", summary.FirstDate)
			fmt.Printf("  Last Date:        %s\n", summary.LastDate)
			fmt.Printf("  Average Speed:    %.1f km/h\n", summary.AvgSpeed)
			fmt.Printf("  Fuel Range:       %.1f - %.1f\n", summary.MinFuel, summary.MaxFuel)

			return nil
		},
	}

	cmd.AddCommand(listCmd, summaryCmd)
	return cmd
}
