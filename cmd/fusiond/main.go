// Command fusiond fuses range-finder sweeps with camera detections and
// publishes the raw scan and fused-object feeds.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fieldrover/fusion/internal/api"
	"github.com/fieldrover/fusion/internal/config"
	"github.com/fieldrover/fusion/internal/fusedb"
	"github.com/fieldrover/fusion/internal/fusion"
	"github.com/fieldrover/fusion/internal/rplidar"
	"github.com/fieldrover/fusion/internal/transport"
)

var (
	devMode    = flag.Bool("dev", false, "Run with a synthetic range finder instead of hardware")
	device     = flag.String("device", "/dev/ttyUSB0", "Range finder serial device")
	baudRate   = flag.Int("baud", rplidar.DefaultBaudRate, "Range finder baud rate")
	rawPubAddr = flag.String("raw-pub", "127.0.0.1:5556", "Raw scan publish address")
	objPubAddr = flag.String("obj-pub", "127.0.0.1:5557", "Fused object publish address")
	detSubAddr = flag.String("det-sub", ":5555", "Detection subscribe address")
	listen     = flag.String("listen", ":8082", "HTTP status listen address (empty to disable)")
	configPath = flag.String("config", "", "Path to tuning config JSON (defaults used when empty)")
	noRawScan  = flag.Bool("no-raw-scan", false, "Start with raw scan publishing disabled (SIGUSR1 toggles)")
	recordPath = flag.String("record", "", "Record fused output to this SQLite file (empty to disable)")
	runNotes   = flag.String("notes", "", "Free-form notes stored with the recording run")
)

// rangeFinder is what main needs from a driver beyond the per-cycle
// operations the engine uses.
type rangeFinder interface {
	fusion.Driver
	DeviceInfo() (*rplidar.DeviceInfo, error)
	Health() (*rplidar.Health, error)
	Close() error
}

func openRangeFinder() (rangeFinder, error) {
	if *devMode {
		log.Printf("dev mode: using synthetic range finder")
		return rplidar.NewMockDriver(rplidar.SyntheticSweep(1500)), nil
	}
	return rplidar.Open(*device, *baudRate)
}

func main() {
	flag.Parse()

	cfg := config.EmptyFusionConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFusionConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	params := fusion.Params{
		BucketSizeDeg:   cfg.GetBucketSizeDeg(),
		MaxAngleDiffDeg: cfg.GetMaxAngleDiffDeg(),
		MinDistanceMM:   cfg.GetMinDistanceMM(),
		MaxDistanceMM:   cfg.GetMaxDistanceMM(),
		MaxObjectAgeMS:  cfg.GetMaxObjectAgeMS(),
		ForceIntervalMS: cfg.GetForceIntervalMS(),
	}
	if err := params.Validate(); err != nil {
		log.Fatalf("Invalid tuning parameters: %v", err)
	}

	// Transport endpoints first; a bad address is fatal before we touch
	// hardware.
	rawPub, err := transport.NewPublisher(*rawPubAddr)
	if err != nil {
		log.Fatalf("Failed to open raw scan publisher: %v", err)
	}
	objPub, err := transport.NewPublisher(*objPubAddr)
	if err != nil {
		log.Fatalf("Failed to open object publisher: %v", err)
	}
	detSub, err := transport.NewSubscriber(*detSubAddr)
	if err != nil {
		log.Fatalf("Failed to open detection subscriber: %v", err)
	}

	// Connect and validate the range finder.
	drv, err := openRangeFinder()
	if err != nil {
		log.Fatalf("Failed to open range finder: %v", err)
	}
	info, err := drv.DeviceInfo()
	if err != nil {
		log.Fatalf("Failed to read device info: %v", err)
	}
	log.Printf("range finder connected: model %d firmware %d.%d hardware %d",
		info.Model, info.FirmwareMajor, info.FirmwareMinor, info.HardwareVersion)
	health, err := drv.Health()
	if err != nil {
		log.Fatalf("Failed to read device health: %v", err)
	}
	if health.Status == rplidar.HealthError {
		log.Fatalf("Range finder health check failed: status %s error code %d", health.Status, health.ErrorCode)
	}
	if err := drv.StartScan(); err != nil {
		log.Fatalf("Failed to start scan: %v", err)
	}

	var recorder fusion.Recorder
	if *recordPath != "" {
		fdb, err := fusedb.NewFuseDB(*recordPath)
		if err != nil {
			log.Fatalf("Failed to open recorder: %v", err)
		}
		defer fdb.Close()
		runID, err := fdb.StartRun(time.Now().UnixMilli(), *device, *runNotes)
		if err != nil {
			log.Fatalf("Failed to start recording run: %v", err)
		}
		log.Printf("recording to %s (run %s)", *recordPath, runID)
		recorder = fdb
	}

	engine := fusion.NewEngine(fusion.EngineConfig{
		Params:        params,
		Driver:        drv,
		RawScans:      rawPub,
		Objects:       objPub,
		Detections:    detSub,
		Recorder:      recorder,
		MaxFailures:   cfg.GetMaxSweepFailures(),
		DetectionWait: cfg.GetDetectionWait(),
		StatsInterval: cfg.GetStatsInterval(),
	})
	engine.SetRawPublish(!*noRawScan)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rawPub.Start(ctx)
	objPub.Start(ctx)

	// SIGUSR1 toggles the raw scan feed at the next cycle boundary.
	toggleCh := make(chan os.Signal, 1)
	signal.Notify(toggleCh, syscall.SIGUSR1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-toggleCh:
				enabled := engine.ToggleRawPublish()
				log.Printf("raw scan publishing toggled: enabled=%v", enabled)
			}
		}
	}()

	// Fusion loop goroutine. A fatal engine error brings the process down.
	var engineErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			engineErr = err
			log.Printf("fusion loop failed: %v", err)
		}
		log.Print("fusion loop terminated")
		stop()
	}()

	// HTTP status server goroutine.
	if *listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()

			server := &http.Server{
				Addr:    *listen,
				Handler: api.NewServer(engine, params).ServeMux(),
			}

			go func() {
				log.Printf("Starting HTTP status server on %s", *listen)
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Printf("status server error: %v", err)
				}
			}()

			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Printf("status server shutdown error: %v", err)
			}
		}()
	}

	wg.Wait()

	// Teardown in reverse acquisition order: stop the scan before releasing
	// the port, close sockets after the loop that fed them is gone.
	log.Print("stopping range finder...")
	if err := drv.Stop(); err != nil {
		log.Printf("scan stop failed: %v", err)
	}
	if err := drv.Close(); err != nil {
		log.Printf("range finder close failed: %v", err)
	}
	detSub.Close()
	objPub.Close()
	rawPub.Close()

	if engineErr != nil {
		log.Printf("exiting after fatal error: %v", engineErr)
		os.Exit(1)
	}
	log.Print("Graceful shutdown complete")
}
