package webhookclient

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	primaryHeader   = "BOX-SIGNATURE-PRIMARY"
	secondaryHeader = "BOX-SIGNATURE-SECONDARY"
	timestampHeader = "BOX-DELIVERY-TIMESTAMP"
)

// Send builds and posts one notification.
func (c Client) Send(ctx context.Context, n Notification) error {
	now := c.now()
	body, err := BuildBody(n, now.Format(time.RFC3339))
	if err != nil {
		return err
	}
	return c.SendBody(ctx, body)
}

// SendBody posts a pre-rendered notification body.
func (c Client) SendBody(ctx context.Context, body []byte) error {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	timestamp := c.now().UTC().Format(time.RFC3339)
	req.Header.Set(timestampHeader, timestamp)
	if key := strings.TrimSpace(c.PrimaryKey); key != "" {
		req.Header.Set(primaryHeader, Sign(key, body, timestamp))
	}
	if key := strings.TrimSpace(c.SecondaryKey); key != "" {
		req.Header.Set(secondaryHeader, Sign(key, body, timestamp))
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook rejected: status=%s body=%s", resp.Status, strings.TrimSpace(string(payload)))
	}
	return nil
}

// Sign computes the Box webhook signature over body and delivery timestamp.
func Sign(key string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	mac.Write([]byte(timestamp))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
