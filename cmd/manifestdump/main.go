// The manifestdump command parses an HLS or DASH manifest and prints the
// normalized form as JSON. It is a debugging aid for the manifest
// library, not part of its contract.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/streamkit/manifest"
)

const (
	version = "1.0.0"
)

func main() {
	// Parse command-line flags
	var (
		srcURI      = flag.String("uri", "", "Source URI of the manifest, used as the resolution base")
		dash        = flag.Bool("dash", false, "Treat the input as a DASH MPD instead of an HLS playlist")
		clockOffset = flag.Duration("clock-offset", 0, "Client/server clock offset for dynamic MPDs (e.g. '1.5s')")
		verbose     = flag.Bool("verbose", false, "Enable verbose logging")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "manifestdump - manifest normalization inspector v%s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <manifest-file>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  <manifest-file>   Path to the manifest, or '-' for stdin\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --uri http://example.com/master.m3u8 master.m3u8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dash --uri http://example.com/dash.mpd dash.mpd\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  cat master.m3u8 | %s --uri http://example.com/master.m3u8 -\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("manifestdump v%s\n", version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: manifest file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if err := run(flag.Arg(0), *srcURI, *dash, *clockOffset, *verbose, logger); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run(path, srcURI string, dash bool, clockOffset time.Duration, verbose bool, logger *slog.Logger) error {
	text, err := readManifest(path)
	if err != nil {
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	// The library reports diagnostics through hclog
	diagLevel := hclog.Warn
	if verbose {
		diagLevel = hclog.Debug
	}
	diag := hclog.New(&hclog.LoggerOptions{
		Name:   "manifest",
		Level:  diagLevel,
		Output: os.Stderr,
	})

	var m *manifest.Manifest
	if dash {
		m, err = manifest.ParseDASH(text, srcURI, &manifest.DASHOptions{
			Logger:      diag,
			ClockOffset: clockOffset,
		})
	} else {
		m, err = manifest.ParseHLS(text, srcURI, &manifest.Options{Logger: diag})
	}
	if err != nil {
		return err
	}

	if m.IsMaster() {
		logger.Debug("parsed master manifest",
			"playlists", m.Playlists.Len(),
			"uriEntries", m.Playlists.URICount(),
		)
	} else {
		logger.Debug("parsed media manifest", "segments", len(m.Segments))
	}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}

	fmt.Println(string(out))
	return nil
}

// readManifest reads the manifest text from a file or stdin.
func readManifest(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}

	data, err := os.ReadFile(path)
	return string(data), err
}
