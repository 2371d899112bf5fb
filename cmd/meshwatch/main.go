package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meshwatchio/meshwatch/internal/api"
	"github.com/meshwatchio/meshwatch/internal/federate"
	"github.com/meshwatchio/meshwatch/internal/ingest"
	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/observer"
	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/store"
)

var (
	dbPath            string
	listenAddr        string
	metricsAddr       string
	radioAddr         string
	siteName          string
	verbose           bool
	maxPacketsPerNode int
	uploadURL         string
	collectorID       string
	uploadToken       string

	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "meshwatch",
	Short: "Passive observer and active prober for a LoRa mesh",
	Long: `meshwatch ingests packets from an attached radio bridge, tracks nodes
and link topology, probes the stalest nodes with traceroutes and
telemetry requests, and serves the collected picture over HTTP.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("meshwatch %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the observer (service mode)",
	Long: `Run the full pipeline: bridge reader, ingestor, topology sweeper,
traceroute and telemetry schedulers, HTTP API, and the federated
uploader when a collector endpoint is configured.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(verbose)

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if metricsAddr != "" {
			go serveMetrics(log, metricsAddr)
		}

		st, err := store.Open(log, dbPath, clockwork.NewRealClock())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		bridge, writer, err := dialBridge(log)
		if err != nil {
			return err
		}

		table := radio.NewNodeTable(0)
		defer table.Stop()
		stream := radio.NewStream(log, writer, table)

		obs, err := observer.New(log, observer.Config{
			Store:   st,
			Slot:    &radio.Slot{},
			Stream:  stream,
			Bridge:  bridge,
			Metrics: metrics.New(prometheus.DefaultRegisterer),
			Ingest:  ingest.Config{MaxPacketsPerNode: maxPacketsPerNode},
			API:     api.Config{ListenAddr: listenAddr, SiteName: siteName},
			Federate: federate.Config{
				APIURL:      uploadURL,
				CollectorID: collectorID,
				Token:       uploadToken,
			},
		})
		if err != nil {
			return fmt.Errorf("build observer: %w", err)
		}

		log.Info("meshwatch starting",
			"version", version, "db", dbPath, "listen", listenAddr)
		if err := obs.Run(ctx); err != nil {
			return fmt.Errorf("run observer: %w", err)
		}
		return nil
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List known nodes from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(verbose)

		st, err := store.Open(log, dbPath, clockwork.NewRealClock())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		nodes, err := st.Nodes(cmd.Context())
		if err != nil {
			return fmt.Errorf("list nodes: %w", err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetAutoWrapText(false)
		table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
		table.SetAutoFormatHeaders(false)
		table.SetHeader([]string{"Node", "Name", "Last Seen", "Packets", "Battery", "MQTT"})
		for _, n := range nodes {
			name := ""
			if n.LongName != nil {
				name = *n.LongName
			} else if n.ShortName != nil {
				name = *n.ShortName
			}
			battery := ""
			if n.BatteryLevel != nil {
				battery = strconv.FormatInt(*n.BatteryLevel, 10) + "%"
			}
			mqtt := ""
			if n.IsMQTT {
				mqtt = "yes"
			}
			table.Append([]string{
				n.ID,
				name,
				n.LastSeen.UTC().Format(time.RFC3339),
				strconv.FormatInt(n.TotalPackets, 10),
				battery,
				mqtt,
			})
		}
		table.Render()
		return nil
	},
}

// dialBridge connects to the radio bridge: a TCP endpoint when
// configured, stdin/stdout otherwise.
func dialBridge(log *slog.Logger) (io.Reader, io.Writer, error) {
	if radioAddr == "" {
		log.Info("no radio address configured, bridging over stdio")
		return os.Stdin, os.Stdout, nil
	}
	conn, err := net.Dial("tcp", radioAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("dial radio bridge %s: %w", radioAddr, err)
	}
	log.Info("connected to radio bridge", "addr", radioAddr)
	return conn, conn, nil
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("failed to start metrics listener", "error", err)
		os.Exit(1)
	}
	log.Info("metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("metrics server failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", envOr("MESHWATCH_DB", "./nodes.db"), "path to the node database")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose mode - show debug logs")

	runCmd.Flags().StringVar(&listenAddr, "listen", envOr("MESHWATCH_LISTEN", ":8080"), "HTTP API listen address")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", envOr("MESHWATCH_METRICS_ADDR", ":2112"), "prometheus metrics listen address, empty disables")
	runCmd.Flags().StringVar(&radioAddr, "radio", envOr("MESHWATCH_RADIO", ""), "radio bridge TCP address, empty bridges over stdio")
	runCmd.Flags().StringVar(&siteName, "site-name", envOr("MESHWATCH_SITE_NAME", "meshwatch"), "site name reported by the config endpoint")
	runCmd.Flags().IntVar(&maxPacketsPerNode, "max-packets-per-node", 1000, "per-node packet history bound")
	runCmd.Flags().StringVar(&uploadURL, "upload-url", envOr("MESHWATCH_UPLOAD_URL", ""), "federated collector base URL, empty disables uploads")
	runCmd.Flags().StringVar(&collectorID, "collector-id", envOr("MESHWATCH_COLLECTOR_ID", "meshwatch-collector"), "collector identity in uploaded snapshots")
	runCmd.Flags().StringVar(&uploadToken, "upload-token", envOr("MESHWATCH_UPLOAD_TOKEN", ""), "bearer token for snapshot uploads")

	rootCmd.AddCommand(runCmd, nodesCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
