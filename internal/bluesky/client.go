package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/clean-following/internal/domain"
)

const (
	defaultPDS       = "https://bsky.social"
	defaultPublicAPI = "https://public.api.bsky.app"

	followsPageSize = 100
)

// Client is a minimal BlueSky/AT Protocol API client. Follow-list reads go
// through the unauthenticated public API; feed generator record management
// requires Login with an App Password.
type Client struct {
	pds        string
	publicAPI  string
	httpClient *http.Client

	// populated after Login
	accessJwt string
	did       string
}

// NewClient creates a new BlueSky API client. If pds is empty, it defaults to
// https://bsky.social.
func NewClient(pds string) *Client {
	if pds == "" {
		pds = defaultPDS
	}
	return &Client{
		pds:       pds,
		publicAPI: defaultPublicAPI,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Login authenticates with the PDS and stores the session token. Use an App
// Password, not your account password.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	body := map[string]string{
		"identifier": identifier,
		"password":   password,
	}

	var resp createSessionResponse
	if err := c.post(ctx, "/xrpc/com.atproto.server.createSession", body, &resp); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	c.accessJwt = resp.AccessJwt
	c.did = resp.DID
	return nil
}

// DID returns the authenticated user's DID. Only valid after Login.
func (c *Client) DID() string {
	return c.did
}

// ResolveHandle resolves a handle to a DID via the public API. No session
// required.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var resp resolveHandleResponse
	params := url.Values{"handle": {handle}}
	if err := c.get(ctx, "/xrpc/com.atproto.identity.resolveHandle", params, &resp); err != nil {
		return "", fmt.Errorf("resolve handle %s: %w", handle, err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("resolve handle %s: empty did in response", handle)
	}
	return resp.DID, nil
}

// GetFollows fetches the complete follow list for an actor, paginating
// through the public API.
func (c *Client) GetFollows(ctx context.Context, actorDID string) ([]domain.Follow, error) {
	var (
		follows []domain.Follow
		cursor  string
	)

	for {
		params := url.Values{
			"actor": {actorDID},
			"limit": {strconv.Itoa(followsPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		var resp getFollowsResponse
		if err := c.get(ctx, "/xrpc/app.bsky.graph.getFollows", params, &resp); err != nil {
			return nil, fmt.Errorf("fetch follows page: %w", err)
		}

		for _, f := range resp.Follows {
			follows = append(follows, domain.Follow{DID: f.DID, Handle: f.Handle})
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return follows, nil
}

// FeedGeneratorRecord is the record body for app.bsky.feed.generator.
type FeedGeneratorRecord struct {
	Type        string `json:"$type"`
	DID         string `json:"did"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

// PublishFeedGenerator creates or updates a feed generator record in the
// authenticated user's repo via com.atproto.repo.putRecord.
func (c *Client) PublishFeedGenerator(ctx context.Context, rkey string, record FeedGeneratorRecord) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}

	body := putRecordRequest{
		Repo:       c.did,
		Collection: "app.bsky.feed.generator",
		RKey:       rkey,
		Record:     record,
	}

	var resp json.RawMessage
	if err := c.post(ctx, "/xrpc/com.atproto.repo.putRecord", body, &resp); err != nil {
		return fmt.Errorf("put record: %w", err)
	}

	return nil
}

// UnpublishFeedGenerator deletes a feed generator record from the
// authenticated user's repo via com.atproto.repo.deleteRecord.
func (c *Client) UnpublishFeedGenerator(ctx context.Context, rkey string) error {
	if c.accessJwt == "" {
		return fmt.Errorf("not authenticated: call Login first")
	}

	body := deleteRecordRequest{
		Repo:       c.did,
		Collection: "app.bsky.feed.generator",
		RKey:       rkey,
	}

	var resp json.RawMessage
	if err := c.post(ctx, "/xrpc/com.atproto.repo.deleteRecord", body, &resp); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.publicAPI+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pds+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

type createSessionResponse struct {
	AccessJwt string `json:"accessJwt"`
	DID       string `json:"did"`
	Handle    string `json:"handle"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type getFollowsResponse struct {
	Cursor  string `json:"cursor"`
	Follows []struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
	} `json:"follows"`
}

type putRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
	Record     any    `json:"record"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	RKey       string `json:"rkey"`
}
