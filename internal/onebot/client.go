// Package onebot talks to a OneBot-compatible chat gateway: it builds CQ
// markup, decodes inbound message events and sends group and private
// messages over the gateway's HTTP API.
package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"qqbridge/internal/metrics"
)

const (
	endpointGroup   = "send_group_msg"
	endpointPrivate = "send_msg"
)

// ClientConfig configures the gateway client.
type ClientConfig struct {
	BaseURL     string
	AccessToken string // sent as a bearer token when set
	Timeout     time.Duration
	Debug       bool // log every broadcast message body
	Logger      *slog.Logger
	HTTPClient  *http.Client

	// SendsPerMinute throttles all gateway calls with a token bucket of
	// SendBurst tokens. Zero disables throttling.
	SendsPerMinute float64
	SendBurst      int
}

// Client sends messages to the gateway. It implements domain.Notifier and
// domain.Broadcaster.
type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	debug   bool
	http    *http.Client
	limiter *sendLimiter
	logger  *slog.Logger

	inflight sync.WaitGroup
}

// NewClient creates a gateway client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.AccessToken,
		timeout: cfg.Timeout,
		debug:   cfg.Debug,
		http:    cfg.HTTPClient,
		limiter: newSendLimiter(cfg.SendBurst, cfg.SendsPerMinute),
		logger:  cfg.Logger,
	}
}

// SendGroup posts a message to a group.
func (c *Client) SendGroup(ctx context.Context, groupID, message string) error {
	return c.post(ctx, endpointGroup, map[string]any{
		"group_id": numericID(groupID),
		"message":  message,
	})
}

// SendAt posts a message to a group, mentioning userID first.
func (c *Client) SendAt(ctx context.Context, groupID, userID, message string) error {
	return c.SendGroup(ctx, groupID, At(userID)+" "+message)
}

// SendPrivate sends a direct message to a user.
func (c *Client) SendPrivate(ctx context.Context, userID, message string) error {
	return c.post(ctx, endpointPrivate, map[string]any{
		"message_type": "private",
		"user_id":      numericID(userID),
		"message":      message,
	})
}

// Broadcast sends message to every group without waiting. Each send runs in
// its own goroutine bounded by the client timeout; failures are only logged.
func (c *Client) Broadcast(groupIDs []string, message string) {
	if c.debug {
		c.logger.Info("broadcast", "groups", len(groupIDs), "message", message)
	}
	for _, gid := range groupIDs {
		c.inflight.Add(1)
		go func(gid string) {
			defer c.inflight.Done()
			ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
			defer cancel()
			if err := c.SendGroup(ctx, gid, message); err != nil {
				c.logger.Warn("broadcast failed", "group_id", gid, "error", err)
			}
		}(gid)
	}
}

// Wait blocks until every broadcast started so far has finished.
func (c *Client) Wait() {
	c.inflight.Wait()
}

func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		metrics.OutboundSends.WithLabelValues(endpoint, "throttled").Inc()
		return fmt.Errorf("%s: throttled: %w", endpoint, err)
	}

	timer := prometheus.NewTimer(metrics.OutboundLatency.WithLabelValues(endpoint))
	defer timer.ObserveDuration()

	err := c.do(ctx, endpoint, payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.OutboundSends.WithLabelValues(endpoint, outcome).Inc()
	return err
}

func (c *Client) do(ctx context.Context, endpoint string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s: gateway returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	c.logger.Debug("gateway call", "endpoint", endpoint, "status", resp.StatusCode)
	return nil
}
