// Command refresh-data is the build-time decrypt-and-publish step: it
// fetches the encrypted forecast document from the data hub, verifies and
// decrypts it, and writes the plain JSON artifact the dashboard serves.
// Work is skipped when the local copy is fresh or the remote content hash
// is unchanged, keeping site builds fast.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ducroq/energydash/internal/secure"
	"github.com/ducroq/energydash/internal/util"
)

const (
	defaultSourceURL = "https://ducroq.github.io/energydatahub/energy_price_forecast.json"
	defaultOutDir    = "static/data"
	outputFile       = "energy_price_forecast.json"
	metadataFile     = "energy_data_metadata.json"
	cacheMaxAge      = 24 * time.Hour
)

// metadata is the sidecar describing the last fetch, used to skip work on
// unchanged remote content.
type metadata struct {
	LastFetchTime   time.Time `json:"last_fetch_time"`
	LastCheckTime   time.Time `json:"last_check_time"`
	DataHash        string    `json:"data_hash"`
	FileSizeBytes   int       `json:"file_size_bytes"`
	SourceURL       string    `json:"source_url"`
	CacheMaxAgeHrs  float64   `json:"cache_max_age_hours"`
}

func main() {
	var (
		force     = flag.Bool("force", false, "refresh even if the cached copy is fresh")
		sourceURL = flag.String("source", defaultSourceURL, "encrypted document URL")
		outDir    = flag.String("out", defaultOutDir, "output directory")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := util.NewLogger(*logLevel, "text")
	util.SetDefault(logger)

	if err := run(logger, *sourceURL, *outDir, *force); err != nil {
		logger.Error("refresh failed", "error", err)
		os.Exit(1)
	}
	logger.Info("forecast data ready", "dir", *outDir)
}

func run(log *slog.Logger, sourceURL, outDir string, force bool) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	outputPath := filepath.Join(outDir, outputFile)
	metadataPath := filepath.Join(outDir, metadataFile)

	if !force && isFresh(outputPath) {
		log.Info("cached data still fresh, skipping fetch", "path", outputPath)
		return nil
	}

	handler, err := secure.NewHandler(
		os.Getenv("ENCRYPTION_KEY_B64"),
		os.Getenv("HMAC_KEY_B64"),
	)
	if err != nil {
		return fmt.Errorf("validating keys: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Info("fetching encrypted document", "url", sourceURL)
	encrypted, err := fetchWithRetry(ctx, sourceURL)
	if err != nil {
		// A stale local copy beats a broken build.
		if _, statErr := os.Stat(outputPath); statErr == nil {
			log.Warn("fetch failed, falling back to cached copy", "error", err)
			return nil
		}
		return fmt.Errorf("fetching %s: %w", sourceURL, err)
	}

	sum := sha256.Sum256(encrypted)
	hash := hex.EncodeToString(sum[:])

	meta := loadMetadata(metadataPath)
	if meta.DataHash == hash {
		if _, err := os.Stat(outputPath); err == nil {
			log.Info("remote data unchanged, keeping existing artifact", "hash", hash[:16])
			meta.LastCheckTime = time.Now()
			saveMetadata(metadataPath, meta)
			return nil
		}
	}

	var plain []byte
	if secure.LooksEncrypted(encrypted) {
		log.Info("decrypting document")
		plain, err = handler.DecryptAndVerify(string(encrypted))
		if err != nil {
			return fmt.Errorf("decrypting document: %w", err)
		}
	} else {
		// The hub occasionally publishes plain JSON during development.
		plain = encrypted
	}

	if !json.Valid(plain) {
		return fmt.Errorf("decrypted content is not valid JSON")
	}
	if err := os.WriteFile(outputPath, plain, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	log.Info("artifact written", "path", outputPath, "bytes", len(plain))

	saveMetadata(metadataPath, metadata{
		LastFetchTime:  time.Now(),
		LastCheckTime:  time.Now(),
		DataHash:       hash,
		FileSizeBytes:  len(encrypted),
		SourceURL:      sourceURL,
		CacheMaxAgeHrs: cacheMaxAge.Hours(),
	})
	return nil
}

// isFresh reports whether the artifact exists and is younger than the
// cache max age.
func isFresh(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) < cacheMaxAge
}

// fetchWithRetry downloads the document with exponential backoff. Client
// errors that will not heal (401/403/404) abort immediately.
func fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	var body []byte

	err := util.Retry(ctx, 3, 2*time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return &util.Permanent{Err: err}
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusNotFound:
			return &util.Permanent{Err: fmt.Errorf("http status %d", resp.StatusCode)}
		default:
			return fmt.Errorf("http status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		return err
	})
	return body, err
}

func loadMetadata(path string) metadata {
	var meta metadata
	data, err := os.ReadFile(path)
	if err != nil {
		return meta
	}
	_ = json.Unmarshal(data, &meta)
	return meta
}

func saveMetadata(path string, meta metadata) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, data, 0o644)
}
