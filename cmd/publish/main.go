package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/blackmichael/clean-following/internal/bluesky"
	"github.com/blackmichael/clean-following/internal/config"
)

const (
	defaultDisplayName = "Clean Following"
	defaultDescription = "Your Following feed, minus self-reposts of recent posts. " +
		"Filters out when someone reposts their own post within 24 hours " +
		"(engagement farming). Older self-reposts pass through."
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		handle      string
		password    string
		pds         string
		serviceDID  string
		displayName string
		description string
		unpublish   bool
	)

	flag.StringVar(&handle, "handle", envOrDefault("BLUESKY_HANDLE", ""), "BlueSky handle (e.g. user.bsky.social)")
	flag.StringVar(&password, "password", envOrDefault("BLUESKY_APP_PASSWORD", ""), "BlueSky app password")
	flag.StringVar(&pds, "pds", envOrDefault("BLUESKY_PDS", "https://bsky.social"), "PDS service URL")
	flag.StringVar(&serviceDID, "service-did", envOrDefault("FEEDGEN_SERVICE_DID", ""), "Feed generator service DID (e.g. did:web:feed.example.com)")
	flag.StringVar(&displayName, "name", defaultDisplayName, "Feed display name (max 24 graphemes)")
	flag.StringVar(&description, "description", defaultDescription, "Feed description (max 300 graphemes)")
	flag.BoolVar(&unpublish, "delete", false, "Delete the feed generator record instead of publishing")
	flag.Parse()

	if handle == "" || password == "" {
		return fmt.Errorf("--handle and --password are required (or set BLUESKY_HANDLE and BLUESKY_APP_PASSWORD)")
	}

	ctx := context.Background()
	client := bluesky.NewClient(pds)

	fmt.Printf("Logging in as %s...\n", handle)
	if err := client.Login(ctx, handle, password); err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s\n", client.DID())

	if unpublish {
		fmt.Printf("Unpublishing feed %q...\n", config.FeedRKey)
		if err := client.UnpublishFeedGenerator(ctx, config.FeedRKey); err != nil {
			return err
		}
		fmt.Printf("Feed unpublished: at://%s/app.bsky.feed.generator/%s\n", client.DID(), config.FeedRKey)
		return nil
	}

	if serviceDID == "" {
		hostname := os.Getenv("FEEDGEN_HOSTNAME")
		if hostname == "" {
			return fmt.Errorf("--service-did is required for publishing (or set FEEDGEN_SERVICE_DID / FEEDGEN_HOSTNAME)")
		}
		serviceDID = "did:web:" + hostname
	}

	record := bluesky.FeedGeneratorRecord{
		Type:        "app.bsky.feed.generator",
		DID:         serviceDID,
		DisplayName: displayName,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	fmt.Printf("Publishing feed %q...\n", config.FeedRKey)
	if err := client.PublishFeedGenerator(ctx, config.FeedRKey, record); err != nil {
		return err
	}

	feedURI := fmt.Sprintf("at://%s/app.bsky.feed.generator/%s", client.DID(), config.FeedRKey)
	fmt.Printf("Feed published: %s\n", feedURI)
	fmt.Println("Find it on your profile's Feeds tab and pin it.")

	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
