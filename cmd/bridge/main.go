package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pitchgrid-bridge/internal/config"
	"pitchgrid-bridge/internal/coordinator"
	"pitchgrid-bridge/internal/oscsession"
	"pitchgrid-bridge/internal/telemetry"
)

func main() {
	settingsPath := flag.String("config", "bridge.toml", "Path to bridge settings file")
	descriptorDir := flag.String("descriptors", "", "Directory of controller descriptor YAML files (overrides bridge.toml)")
	connectName := flag.String("connect", "", "Controller descriptor name to connect to at startup")
	enableLogging := flag.Bool("log", false, "Enable debug-level structured logging (info level by default)")
	flag.Parse()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (continuing with defaults)\n", err)
		settings = config.DefaultSettings()
	}
	if *descriptorDir != "" {
		settings.DescriptorDir = *descriptorDir
	}

	logger := telemetry.NewLogger(10000)
	if lvl, ok := telemetry.ParseLevel(settings.LogLevel); ok {
		logger.SetMinLevel(lvl)
	}
	if *enableLogging {
		logger.SetMinLevel(telemetry.LogLevelDebug)
	}
	if unknown := logger.ConfigureComponents(settings.LogComponents); len(unknown) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown log_components entries ignored: %v\n", unknown)
	}

	fmt.Println("PitchGrid Bridge")
	fmt.Println("================")
	fmt.Printf("Descriptor directory: %s\n", settings.DescriptorDir)
	fmt.Printf("OSC listen/peer ports: %d/%d\n", settings.OSCListenPort, settings.OSCPeerPort)

	store, loadErrs := config.NewStore(settings.DescriptorDir, logger)
	for _, e := range loadErrs {
		fmt.Fprintf(os.Stderr, "descriptor load error: %v\n", e)
	}
	if err := store.Watch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error watching descriptor directory: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	osc, err := oscsession.New("127.0.0.1", settings.OSCListenPort, settings.OSCPeerPort, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting OSC session: %v\n", err)
		os.Exit(1)
	}
	osc.Start()
	defer osc.Stop()

	backend := coordinator.NewHeadlessBackend(nil)
	coord := coordinator.New(store, backend, logger, osc)

	if *connectName != "" {
		if err := coord.Connect(*connectName); err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to %q: %v\n", *connectName, err)
			os.Exit(1)
		}
		fmt.Printf("Connected to %q\n", *connectName)
		defer coord.Disconnect()
	} else {
		fmt.Println("No controller specified at startup; waiting for a connect request.")
	}

	fmt.Println("\nKnown controllers:")
	for name := range store.All() {
		fmt.Printf("  - %s\n", name)
	}
	fmt.Println("\nRunning. Press Ctrl+C to quit.")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	fmt.Println("\nShutting down...")
}
