package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Sylteon/uzlarska-regata/internal/api"
	"github.com/Sylteon/uzlarska-regata/internal/config"
	"github.com/Sylteon/uzlarska-regata/internal/db"
	"github.com/Sylteon/uzlarska-regata/internal/race"
	"github.com/Sylteon/uzlarska-regata/internal/results"
	"github.com/Sylteon/uzlarska-regata/internal/serialmux"
	"github.com/Sylteon/uzlarska-regata/internal/version"
)

var (
	devMode        = flag.Bool("dev", false, "Run with a mock console replaying an embedded session")
	disableConsole = flag.Bool("disable-console", false, "Run without a console source; races start over HTTP only")
	listen         = flag.String("listen", "", "HTTP listen address (default \":8080\")")
	portPath       = flag.String("port", "", "Console serial port (default \"/dev/ttyUSB0\")")
	baudRate       = flag.Int("baud", 0, "Console baud rate (default 9600)")
	listenUDP      = flag.String("listen-udp", "", "Listen for console lines on this UDP address instead of a serial port")
	laneCount      = flag.Int("lanes", 0, "Number of lanes on the rig (default 6)")
	tickMs         = flag.Int("tick-ms", 0, "Scoreboard refresh period in milliseconds (default 50)")
	configPath     = flag.String("config", "", "JSON config file overlaying the defaults")
	resultsPath    = flag.String("results", "", "CSV results file (default \"results.csv\")")
	resultsDBPath  = flag.String("results-db", "", "sqlite results database; replaces the CSV file")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// fixtureScript is a looping demo session for -dev: each pass starts a
// fresh race, posts a few times, and leaves some lanes running.
//
//go:embed fixtures.txt
var fixtureScript string

// fixtureInterval paces the -dev replay. Slow enough to watch on the
// scoreboard, fast enough that a full demo race fits in half a minute.
const fixtureInterval = 1500 * time.Millisecond

// flagOverlay lifts set flag values into a config overlay. Zero values
// mean "not given" and defer to the config file and defaults.
func flagOverlay() *config.Config {
	overlay := &config.Config{}
	if *laneCount != 0 {
		overlay.Lanes = laneCount
	}
	if *tickMs != 0 {
		overlay.TickMs = tickMs
	}
	if *resultsPath != "" {
		overlay.ResultsPath = resultsPath
	}
	if *resultsDBPath != "" {
		overlay.ResultsDBPath = resultsDBPath
	}
	if *portPath != "" {
		overlay.ConsolePort = portPath
	}
	if *baudRate != 0 {
		overlay.ConsoleBaud = baudRate
	}
	if *listenUDP != "" {
		overlay.ListenUDP = listenUDP
	}
	if *listen != "" {
		overlay.ListenAddr = listen
	}
	return overlay
}

// openConsole opens the line source the merged config selects. The
// second return is the source description reported on /api/config.
func openConsole(cfg *config.Config) (serialmux.SerialMuxInterface, string, error) {
	switch {
	case *disableConsole:
		return serialmux.NewDisabledSerialMux(), "disabled", nil

	case *devMode:
		lines := strings.Split(strings.TrimSpace(fixtureScript), "\n")
		return serialmux.NewMockSerialMux(lines, fixtureInterval), "mock", nil

	case cfg.GetListenUDP() != "":
		mux, err := serialmux.NewUDPMux(cfg.GetListenUDP())
		if err != nil {
			return nil, "", err
		}
		return mux, "udp:" + cfg.GetListenUDP(), nil

	default:
		opts := serialmux.PortOptions{BaudRate: cfg.GetConsoleBaud()}
		mux, err := serialmux.NewRealSerialMux(cfg.GetConsolePort(), opts)
		if err != nil {
			return nil, "", err
		}
		return mux, "serial:" + cfg.GetConsolePort(), nil
	}
}

// splitMigrateArgs peels the -results-db option, wherever it sits, out
// of the migrate arguments. The remaining arguments select the action.
func splitMigrateArgs(args []string) (string, []string, error) {
	dbPath := "results.db"
	actionArgs := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "-results-db" || args[i] == "--results-db" {
			if i+1 >= len(args) {
				return "", nil, errors.New("-results-db requires a path")
			}
			dbPath = args[i+1]
			i++
			continue
		}
		actionArgs = append(actionArgs, args[i])
	}
	return dbPath, actionArgs, nil
}

func runMigrate(args []string) {
	dbPath, actionArgs, err := splitMigrateArgs(args)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	db.RunMigrateCommand(actionArgs, dbPath)
}

// Main
func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("regata %s (%s) built %s\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		fileCfg, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config file: %v", err)
		}
		cfg = cfg.Merge(fileCfg)
	}
	cfg = cfg.Merge(flagOverlay())
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	log.Printf("regata %s (%s) built %s", version.Version, version.GitSHA, version.BuildTime)

	// Exactly one results artifact per run: the sqlite store when
	// -results-db is given, the CSV file otherwise.
	var sink race.ResultSink
	var database *db.DB
	if dbPath := cfg.GetResultsDBPath(); dbPath != "" {
		var err error
		database, err = db.NewDB(dbPath)
		if err != nil {
			log.Fatalf("failed to open results database: %v", err)
		}
		defer database.Close()
		sink = db.NewResultSink(database)
		log.Printf("recording results to database %s", dbPath)
	} else {
		csvSink, err := results.NewCSVFileSink(cfg.GetResultsPath())
		if err != nil {
			log.Fatalf("failed to open results file: %v", err)
		}
		defer csvSink.Close()
		sink = csvSink
		log.Printf("recording results to %s", cfg.GetResultsPath())
	}

	console, sourceDesc, err := openConsole(cfg)
	if err != nil {
		log.Fatalf("failed to open console source: %v", err)
	}

	// With a results database the console becomes hot-swappable: stored
	// port configurations can be applied over /api/console/reload.
	if database != nil {
		snap := api.ConsoleConfigSnapshot{}
		if strings.HasPrefix(sourceDesc, "serial:") {
			opts := serialmux.PortOptions{BaudRate: cfg.GetConsoleBaud()}
			if normalized, err := opts.Normalize(); err == nil {
				snap = api.ConsoleConfigSnapshot{
					PortPath: cfg.GetConsolePort(),
					Source:   "flags",
					Options:  normalized,
				}
			}
		}
		console = api.NewConsolePortManager(database, console, snap, serialmux.OpenRealMux)
	}
	defer console.Close()

	if err := console.Initialize(); err != nil {
		log.Fatalf("failed to initialize console: %v", err)
	}
	log.Printf("console source: %s", sourceDesc)

	engine := race.NewEngine(race.Options{
		Lanes:           cfg.GetLanes(),
		Tick:            cfg.GetTick(),
		Sink:            sink,
		LogUnrecognized: cfg.GetLogUnrecognized(),
	})

	// Create a wait group for the HTTP server, console monitor, and engine routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the console port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := console.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor console: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// feed console lines into the race engine until shutdown; the engine
	// flushes the in-progress race to the sink on its way out
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, lines := console.Subscribe()
		defer console.Unsubscribe(id)
		if err := engine.Run(ctx, lines); err != nil && err != context.Canceled {
			log.Printf("engine stopped with error: %v", err)
		}
		log.Print("engine routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// mount the API handlers, then the admin debugging routes for the
		// console and, when present, the results database
		mux := api.NewServer(engine, console, database, sourceDesc).ServeMux()
		console.AttachAdminRoutes(mux)
		if database != nil {
			database.AttachAdminRoutes(mux)
		}

		server := &http.Server{
			Addr:    cfg.GetListenAddr(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("scoreboard on %s", cfg.GetListenAddr())
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
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
