package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tremor-data/intensity.report/internal/api"
	"github.com/tremor-data/intensity.report/internal/config"
	"github.com/tremor-data/intensity.report/internal/db"
	"github.com/tremor-data/intensity.report/internal/detect"
	"github.com/tremor-data/intensity.report/internal/history"
	"github.com/tremor-data/intensity.report/internal/pipeline"
	"github.com/tremor-data/intensity.report/internal/seismic"
	"github.com/tremor-data/intensity.report/internal/sentence"
	"github.com/tremor-data/intensity.report/internal/serialmux"
	"github.com/tremor-data/intensity.report/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a simulated sensor instead of real hardware")
	listen     = flag.String("listen", ":8080", "Listen address")
	port       = flag.String("port", "/dev/ttyUSB0", "Serial port to use (ignored in dev mode)")
	configPath = flag.String("config", "", "Path to tuning config JSON (optional)")
	dbPath     = flag.String("db", "seismic_events.db", "Event archive database path (empty to disable)")
)

// sentenceTags builds the parser tag set, applying any firmware overrides
// from the tuning config.
func sentenceTags(tuning *config.TuningConfig) sentence.Tags {
	tags := sentence.DefaultTags()
	if t := tuning.GetAccelerationTag(); t != "" {
		tags.Acceleration = t
	}
	if t := tuning.GetIntensityTag(); t != "" {
		tags.Intensity = t
	}
	if t := tuning.GetRawTag(); t != "" {
		tags.Raw = t
	}
	return tags
}

// Main
func main() {
	flag.Parse()

	log.Printf("seismon %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !*devMode && *port == "" {
		log.Fatal("Serial port is required")
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
	}

	var sensorSerial serialmux.SerialMuxInterface
	if *devMode {
		sensorSerial = serialmux.NewSerialMux[*serialmux.SimulatedSensorPort](serialmux.NewSimulatedSensorPort())
		log.Printf("running with simulated sensor")
	} else {
		var err error
		sensorSerial, err = serialmux.NewRealSerialMux(*port, serialmux.PortOptions{})
		if err != nil {
			log.Fatalf("failed to open sensor port: %v", err)
		}
	}
	defer sensorSerial.Close()

	var archive *db.DB
	if *dbPath != "" {
		var err error
		archive, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer archive.Close()
	}

	historyOpts := []history.Option{history.WithCapacity(tuning.GetHistoryCapacity())}
	if archive != nil {
		historyOpts = append(historyOpts, history.WithArchiver(archive))
	}
	eventHistory := history.NewStore(tuning.GetHistoryPath(), historyOpts...)

	scheduler := pipeline.NewScheduler(pipeline.Config{
		Parser: sentence.NewParser(sentenceTags(tuning)),
		Processor: seismic.NewProcessor(seismic.Config{
			CalibrationFactor: tuning.GetCalibrationFactor(),
			CutoffHz:          tuning.GetCutoffHz(),
			SampleRateHz:      tuning.GetSampleRateHz(),
			LpgmBreakpoints:   tuning.GetLpgmBreakpoints(),
		}),
		Detector:        detect.NewDetector(tuning.GetTriggerIntensity()),
		History:         eventHistory,
		DisplayWindow:   tuning.GetDisplayWindow(),
		DisplayInterval: tuning.GetPublishInterval(),
		StatusInterval:  tuning.GetStatusInterval(),
		WorkerPoll:      tuning.GetWorkerPoll(),
	})

	// Create a wait group for the HTTP server, serial monitor, and pipeline
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sensorSerial.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// run the processing pipeline against the serial feed
	scheduler.Start(ctx, sensorSerial)
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		scheduler.Stop()
		// let in-flight history writes land before the process exits
		eventHistory.Sync()
		log.Printf("pipeline stopped")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(sensorSerial, scheduler, eventHistory, archive, tuning).ServeMux()

		sensorSerial.AttachAdminRoutes(mux)
		if archive != nil {
			archive.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
