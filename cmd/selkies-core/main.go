package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/selkies-project/selkies-core/internal/config"
	"github.com/selkies-project/selkies-core/internal/logging"
	"github.com/selkies-project/selkies-core/internal/signaling"
	"github.com/selkies-project/selkies-core/internal/transport"
	"github.com/selkies-project/selkies-core/pkg/client"
)

var (
	version          = "0.1.0"
	cfgFile          string
	runFlagServerURL string
	probeTimeout     time.Duration
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "selkies-core",
	Short: "Selkies streaming core",
	Long:  "selkies-core runs the browser-side WebRTC desktop streaming core headlessly, for soak testing, load testing, and connectivity diagnostics.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the streaming core",
	Run: func(cmd *cobra.Command, args []string) {
		runCore()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("selkies-core v%s\n", version)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "One-shot signaling and ICE gathering check, no media",
	Run: func(cmd *cobra.Command, args []string) {
		probeConnectivity()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searched under /etc/selkies-core)")
	runCmd.Flags().StringVar(&runFlagServerURL, "server", "", "signaling server URL (overrides config)")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 10*time.Second, "maximum time to wait for signaling/ICE diagnostics")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if runFlagServerURL != "" {
		cfg.ServerURL = runFlagServerURL
	}

	var output io.Writer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, 50, 3)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %q: %v\n", cfg.LogFile, err)
			os.Exit(1)
		}
		output = logging.TeeWriter(os.Stdout, rw)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")
	return cfg
}

// runCore starts the streaming core headlessly and blocks until a shutdown
// signal arrives. Suited to soak testing and integration smoke tests that
// don't need the embedding dashboard's UI.
func runCore() {
	cfg := loadConfig()

	if cfg.ServerURL == "" {
		fmt.Fprintln(os.Stderr, "server URL required; set server_url in config or pass --server")
		os.Exit(1)
	}

	c, err := client.New(cfg, cfg.SessionID)
	if err != nil {
		log.Error("failed to build client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		cancel()
		c.Cleanup()
	}()

	log.Info("starting streaming core", "version", version, "server", cfg.ServerURL)
	c.Initialize(ctx)
	log.Info("streaming core stopped")
}

// probeConnectivity performs a one-shot connectivity check: it connects the
// signaling client, waits briefly for the first server event, and (if a TURN
// config endpoint is set) fetches and prints the resolved ICE server list.
// No media is negotiated; this never creates a peer connection.
func probeConnectivity() {
	cfg := loadConfig()

	if cfg.ServerURL == "" {
		fmt.Fprintln(os.Stderr, "server URL required; set server_url in config")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	sc := signaling.New(signaling.Config{
		ServerURL: cfg.ServerURL,
		SessionID: cfg.SessionID,
		AuthToken: cfg.AuthToken,
		AppName:   cfg.AppName,
		Path:      cfg.Path,
	})
	sc.Connect(ctx)
	defer sc.Disconnect()

	fmt.Println("probe: waiting for signaling event...")
	select {
	case ev := <-sc.Events():
		fmt.Printf("probe: received signaling event kind=%d\n", ev.Kind)
	case <-ctx.Done():
		fmt.Println("probe: timed out waiting for signaling event")
	}

	if cfg.TurnURL == "" {
		return
	}

	iceCtx, iceCancel := context.WithTimeout(context.Background(), probeTimeout)
	defer iceCancel()
	servers, err := transport.FetchICEServers(iceCtx, cfg.TurnURL)
	if err != nil {
		fmt.Printf("probe: ICE config fetch failed: %v\n", err)
		return
	}
	fmt.Printf("probe: resolved %d ICE server(s)\n", len(servers))
	for _, s := range servers {
		fmt.Printf("  - %v\n", s.URLs)
	}
}
