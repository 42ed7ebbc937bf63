package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FeedRKey is the record key of the single feed served by this generator.
const FeedRKey = "clean-following"

// Config holds all configuration for the application.
type Config struct {
	// Hostname is the public hostname where this service is reachable (used for did:web).
	Hostname string

	// Port is the HTTP server port.
	Port int

	// PublisherDID is the DID of the account that published the feed
	// generator record. Clients request the feed under this DID, not the
	// service's did:web.
	PublisherDID string

	// BlueskyHandle is the account whose follow list scopes the firehose.
	BlueskyHandle string

	// BlueskyAppPassword authenticates feed registration. Not needed at runtime.
	BlueskyAppPassword string

	// DataDir is the directory holding the SQLite database.
	DataDir string

	// FirehoseURL is the Jetstream WebSocket endpoint.
	FirehoseURL string

	// SelfRepostMaxAge is the age below which a self-repost is suppressed.
	SelfRepostMaxAge time.Duration

	// FollowRefreshInterval is how often the follow list is re-fetched.
	FollowRefreshInterval time.Duration

	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration

	// Retention is the maximum age of indexed rows before pruning.
	Retention time.Duration

	// AllowedDIDs restricts feed access to these requester DIDs. Empty means open.
	AllowedDIDs map[string]struct{}
}

// ServiceDID returns the did:web for this feed generator based on the hostname.
func (c *Config) ServiceDID() string {
	return "did:web:" + c.Hostname
}

// FeedURI returns the AT-URI of the feed generator record as published,
// under the publisher's DID when configured.
func (c *Config) FeedURI() string {
	did := c.PublisherDID
	if did == "" {
		did = c.ServiceDID()
	}
	return fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", did, FeedRKey)
}

// DBPath returns the SQLite database file path under DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "feed.db")
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
	}

	hostname := os.Getenv("FEEDGEN_HOSTNAME")
	if hostname == "" {
		hostname = "localhost"
	}

	handle := os.Getenv("BLUESKY_HANDLE")
	if handle == "" {
		return nil, fmt.Errorf("BLUESKY_HANDLE is required")
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/data"
	}

	firehoseURL := os.Getenv("FEEDGEN_FIREHOSE_URL")
	if firehoseURL == "" {
		firehoseURL = "wss://jetstream2.us-east.bsky.network/subscribe"
	}

	maxAgeHours, err := intEnv("SELF_REPOST_MAX_AGE_HOURS", 24)
	if err != nil {
		return nil, err
	}
	refreshSeconds, err := intEnv("FOLLOW_REFRESH_INTERVAL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	cleanupSeconds, err := intEnv("DB_CLEANUP_INTERVAL_SECONDS", 3600)
	if err != nil {
		return nil, err
	}
	retentionHours, err := intEnv("DB_RETENTION_HOURS", 48)
	if err != nil {
		return nil, err
	}

	return &Config{
		Hostname:              hostname,
		Port:                  port,
		PublisherDID:          os.Getenv("FEEDGEN_PUBLISHER_DID"),
		BlueskyHandle:         handle,
		BlueskyAppPassword:    os.Getenv("BLUESKY_APP_PASSWORD"),
		DataDir:               dataDir,
		FirehoseURL:           firehoseURL,
		SelfRepostMaxAge:      time.Duration(maxAgeHours) * time.Hour,
		FollowRefreshInterval: time.Duration(refreshSeconds) * time.Second,
		CleanupInterval:       time.Duration(cleanupSeconds) * time.Second,
		Retention:             time.Duration(retentionHours) * time.Hour,
		AllowedDIDs:           parseAllowedDIDs(os.Getenv("ALLOWED_DIDS")),
	}, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func parseAllowedDIDs(raw string) map[string]struct{} {
	allowed := make(map[string]struct{})
	for _, did := range strings.Split(raw, ",") {
		did = strings.TrimSpace(did)
		if did != "" {
			allowed[did] = struct{}{}
		}
	}
	return allowed
}
