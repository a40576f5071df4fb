package cli

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nczempin/httpc-fipe/client"
	"github.com/nczempin/httpc-fipe/fipe"
	"github.com/nczempin/httpc-fipe/protocol"
	"github.com/nczempin/httpc-fipe/transport"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "fipe",
	Short: "Query FIPE vehicle prices over a hand-framed HTTP/1.1 client",
	Long: `fipe - FIPE vehicle price lookup

Talks to the public FIPE API with a minimal HTTP/1.1 GET client written
directly on top of TLS: one connection per request, responses framed by
Content-Length.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Endpoint flags
	rootCmd.PersistentFlags().String("host", client.DefaultHost, "API host")
	rootCmd.PersistentFlags().Int("port", transport.DefaultPort, "API port")
	rootCmd.PersistentFlags().String("base-path", "", "API base path (default derived from --vehicle)")
	rootCmd.PersistentFlags().String("vehicle", string(fipe.Cars), "Vehicle type (carros, motos, caminhoes)")
	rootCmd.PersistentFlags().String("ca-file", "", "PEM file of extra trusted certificates")

	// Connection flags
	rootCmd.PersistentFlags().String("backend", string(transport.BackendNet), "Socket backend (net, uring)")
	rootCmd.PersistentFlags().Duration("connect-timeout", 10*time.Second, "Connect and handshake timeout")
	rootCmd.PersistentFlags().Duration("read-timeout", 30*time.Second, "Per-read timeout")
	rootCmd.PersistentFlags().Float64("rps", 0, "Maximum requests per second (0 = unlimited)")

	// Framing flags
	rootCmd.PersistentFlags().Int("chunk-cap", protocol.DefaultChunkCap, "Maximum bytes per body read")
	rootCmd.PersistentFlags().Int("max-header-bytes", protocol.DefaultMaxHeaderBytes, "Maximum response header size")
	rootCmd.PersistentFlags().Int("max-body-bytes", 0, "Maximum declared Content-Length (0 = unlimited)")
	rootCmd.PersistentFlags().Bool("single-read-header", false, "Require the whole header in the first read")
	rootCmd.PersistentFlags().Bool("bare-lf", false, "Terminate request lines with LF instead of CRLF")

	// Output flags
	rootCmd.PersistentFlags().IntP("verbose", "v", 0, "Verbosity level (0-3)")
	rootCmd.PersistentFlags().String("history", "", "SQLite file recording saved quotes")
	rootCmd.PersistentFlags().String("out-dir", ".", "Directory for saved quote files")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fipe %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// newLogger maps --verbose onto a slog level: 0 error, 1 warn, 2 info, 3 debug.
func newLogger(w io.Writer, verbose int) *slog.Logger {
	level := slog.LevelError
	switch {
	case verbose >= 3:
		level = slog.LevelDebug
	case verbose == 2:
		level = slog.LevelInfo
	case verbose == 1:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// clientOptions builds client options from the persistent flags.
func clientOptions(cmd *cobra.Command) (client.Options, error) {
	flags := cmd.Flags()
	host, _ := flags.GetString("host")
	port, _ := flags.GetInt("port")
	basePath, _ := flags.GetString("base-path")
	vehicleName, _ := flags.GetString("vehicle")
	caFile, _ := flags.GetString("ca-file")
	backend, _ := flags.GetString("backend")
	connectTimeout, _ := flags.GetDuration("connect-timeout")
	readTimeout, _ := flags.GetDuration("read-timeout")
	rps, _ := flags.GetFloat64("rps")
	chunkCap, _ := flags.GetInt("chunk-cap")
	maxHeader, _ := flags.GetInt("max-header-bytes")
	maxBody, _ := flags.GetInt("max-body-bytes")
	singleRead, _ := flags.GetBool("single-read-header")
	bareLF, _ := flags.GetBool("bare-lf")
	verbose, _ := flags.GetInt("verbose")

	if basePath == "" {
		vehicle, err := fipe.ParseVehicle(vehicleName)
		if err != nil {
			return client.Options{}, err
		}
		basePath = fipe.BasePath(vehicle)
	}

	opts := client.DefaultOptions()
	opts.Host = host
	opts.Port = port
	opts.BasePath = basePath
	opts.Backend = transport.Backend(backend)
	opts.ConnectTimeout = connectTimeout
	opts.ReadTimeout = readTimeout
	opts.RequestsPerSecond = rps
	opts.ChunkCap = chunkCap
	opts.MaxHeaderBytes = maxHeader
	opts.MaxBodyBytes = maxBody
	opts.SingleReadHeader = singleRead
	opts.BareLF = bareLF
	opts.Logger = newLogger(cmd.ErrOrStderr(), verbose)

	if caFile != "" {
		cfg, err := trustConfig(caFile)
		if err != nil {
			return client.Options{}, err
		}
		opts.TLSConfig = cfg
	}
	return opts, nil
}

// trustConfig returns a TLS config trusting the system roots plus caFile.
func trustConfig(caFile string) (*tls.Config, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
	}

	roots, err := x509.SystemCertPool()
	if err != nil || roots == nil {
		roots = x509.NewCertPool()
	}
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %q", caFile)
	}
	return &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}, nil
}

func newClient(cmd *cobra.Command) (*client.HttpClient, error) {
	opts, err := clientOptions(cmd)
	if err != nil {
		return nil, err
	}
	c, err := client.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	return c, nil
}

func newAPI(cmd *cobra.Command) (*fipe.API, error) {
	c, err := newClient(cmd)
	if err != nil {
		return nil, err
	}
	return fipe.New(c), nil
}
