package box

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fr0stylo/docmirror/internal/app/domain"
	"github.com/fr0stylo/docmirror/internal/app/ports"
)

const (
	itemFields          = "id,type,name,parent,path_collection,owned_by,sha1,item_status,created_at,modified_at"
	collaborationFields = "id,type,item,accessible_by,role,status"
	collaborationLimit  = 100
)

// ErrCircuitOpen indicates the source API is being short-circuited after repeated failures.
var ErrCircuitOpen = errors.New("box api circuit open")

// Credentials selects how the client authenticates.
type Credentials struct {
	DeveloperToken string
	ClientID       string
	ClientSecret   string
	TokenURL       string
	SubjectType    string
	SubjectID      string
}

// Options configures the Box API client.
type Options struct {
	BaseURL     string
	Credentials Credentials
	Timeout     time.Duration
	// HTTPClient replaces the authenticated transport; tests point it at httptest servers.
	HTTPClient *http.Client
	MaxRetries uint64
	RetryBase  time.Duration
}

// Client reads items, folder listings, collaborations and file content.
type Client struct {
	baseURL    string
	http       *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxRetries uint64
	retryBase  time.Duration
	log        *slog.Logger
}

// NewClient builds an authenticated client. Client credentials take precedence
// over a developer token.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.box.com/2.0"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		source, err := tokenSource(ctx, opts.Credentials)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: source,
				Base:   otelhttp.NewTransport(http.DefaultTransport),
			},
		}
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	retryBase := opts.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}

	logger := slog.Default().With("component", "box-client")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "box-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ports.ErrSourceItemGone) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    baseURL,
		http:       httpClient,
		breaker:    breaker,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		log:        logger,
	}, nil
}

func tokenSource(ctx context.Context, creds Credentials) (oauth2.TokenSource, error) {
	if creds.ClientID != "" && creds.ClientSecret != "" {
		params := url.Values{}
		if creds.SubjectType != "" {
			params.Set("box_subject_type", creds.SubjectType)
		}
		if creds.SubjectID != "" {
			params.Set("box_subject_id", creds.SubjectID)
		}
		tokenURL := creds.TokenURL
		if tokenURL == "" {
			tokenURL = "https://api.box.com/oauth2/token"
		}
		cfg := clientcredentials.Config{
			ClientID:       creds.ClientID,
			ClientSecret:   creds.ClientSecret,
			TokenURL:       tokenURL,
			EndpointParams: params,
			AuthStyle:      oauth2.AuthStyleInParams,
		}
		return cfg.TokenSource(ctx), nil
	}
	if creds.DeveloperToken != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.DeveloperToken, TokenType: "Bearer"}), nil
	}
	return nil, errors.New("box credentials are required")
}

// GetItem fetches the current state of a file or folder.
func (c *Client) GetItem(ctx context.Context, ref domain.ItemRef) (domain.SourceItem, error) {
	var payload itemPayload
	endpoint := fmt.Sprintf("/%ss/%s", ref.Type, url.PathEscape(ref.ID))
	if err := c.getJSON(ctx, endpoint, url.Values{"fields": {itemFields}}, &payload); err != nil {
		return domain.SourceItem{}, err
	}
	item := payload.toSourceItem()
	if item.Type == "" {
		item.Type = ref.Type
	}
	return item, nil
}

// ListCollaborations returns every grant on the item, following markers.
func (c *Client) ListCollaborations(ctx context.Context, ref domain.ItemRef) ([]domain.SourceCollaboration, error) {
	endpoint := fmt.Sprintf("/%ss/%s/collaborations", ref.Type, url.PathEscape(ref.ID))
	var out []domain.SourceCollaboration
	marker := ""
	for {
		query := url.Values{
			"fields": {collaborationFields},
			"limit":  {strconv.Itoa(collaborationLimit)},
		}
		if marker != "" {
			query.Set("marker", marker)
		}
		var page collaborationPage
		if err := c.getJSON(ctx, endpoint, query, &page); err != nil {
			return nil, err
		}
		for _, entry := range page.Entries {
			out = append(out, entry.toSourceCollaboration())
		}
		if page.NextMarker == "" || len(page.Entries) == 0 {
			return out, nil
		}
		marker = page.NextMarker
	}
}

// ListFolderItems returns one offset page of a folder's children.
func (c *Client) ListFolderItems(ctx context.Context, folderID string, offset, limit int) (ports.FolderPage, error) {
	if limit <= 0 {
		limit = 1000
	}
	var page folderItemsPage
	endpoint := fmt.Sprintf("/folders/%s/items", url.PathEscape(folderID))
	query := url.Values{
		"fields": {itemFields},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	if err := c.getJSON(ctx, endpoint, query, &page); err != nil {
		return ports.FolderPage{}, err
	}
	out := ports.FolderPage{TotalCount: page.TotalCount, Offset: page.Offset}
	for _, entry := range page.Entries {
		if entry.Type != string(domain.SourceFile) && entry.Type != string(domain.SourceFolder) {
			continue
		}
		out.Items = append(out.Items, entry.toSourceItem())
	}
	return out, nil
}

// Download streams file content. The caller closes the reader.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	var body io.ReadCloser
	var size int64
	err := c.do(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, "/files/"+url.PathEscape(fileID)+"/content", nil)
		if err != nil {
			return err
		}
		body, size = resp.Body, resp.ContentLength
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return body, size, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values, target any) error {
	return c.do(ctx, func(ctx context.Context) error {
		resp, err := c.send(ctx, endpoint, query)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("decode %s: %w", endpoint, err)
		}
		return nil
	})
}

// do runs one logical call through the breaker with retries on throttling and server errors.
func (c *Client) do(ctx context.Context, call func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(c.retryBase)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, call(ctx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) send(ctx context.Context, endpoint string, query url.Values) (*http.Response, error) {
	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, retry.RetryableError(fmt.Errorf("box request %s: %w", endpoint, err))
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: %s", ports.ErrSourceItemGone, endpoint)
	}
	c.log.WarnContext(ctx, "box api request failed", "endpoint", endpoint, "status", resp.StatusCode)
	return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

// StatusError is a non-2xx response other than not-found.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("box api %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Retryable reports throttling and server-side failures.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

var _ ports.Source = (*Client)(nil)
