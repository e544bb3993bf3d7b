package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Ordering modes for the ingestion queue grouping key.
const (
	OrderingTotal   = "total"
	OrderingPerItem = "per-item"
)

type Config struct {
	Environment   string
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	Queue         QueueConfig
	Worker        WorkerConfig
	Mirror        MirrorConfig
	Box           BoxConfig
	Lease         LeaseConfig
	IndexSync     IndexSyncConfig
}

type ServerConfig struct {
	Port        int
	MetricsPort int
}

type DatabaseConfig struct {
	Path               string
	LogTiming          bool
	Host               string
	Port               int
	Name               string
	User               string
	Password           string
	SSLMode            string
	ItemTable          string
	CollaborationTable string
}

type ObservabilityConfig struct {
	Enabled           bool
	OTLPEndpoint      string
	OTLPTraceHeaders  map[string]string
	OTLPMetricHeaders map[string]string
	ServiceName       string
	ServiceVer        string
	SamplingRatio     float64
	MetricsConsole    bool
}

type QueueConfig struct {
	Name              string
	OrderingMode      string
	VisibilityTimeout time.Duration
	DedupWindow       time.Duration
	MaxReceiveCount   int
	DLQRetention      time.Duration
	PollInterval      time.Duration
}

type WorkerConfig struct {
	Concurrency   int
	RootFolderIDs []string
	SkipExisting  bool
	CrawlSchedule string
	CrawlLeaseTTL time.Duration
}

type MirrorConfig struct {
	URL             string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
}

type BoxConfig struct {
	APIURL              string
	TokenURL            string
	DeveloperToken      string
	ClientID            string
	ClientSecret        string
	SubjectType         string
	SubjectID           string
	WebhookPrimaryKey   string
	WebhookSecondaryKey string
	Timeout             time.Duration
}

type LeaseConfig struct {
	RedisURL string
}

type IndexSyncConfig struct {
	NotifyURL string
}

// Load reads process configuration for services that do not talk to the source platform.
func Load() (Config, error) {
	return load(false)
}

// LoadForWorker loads config and requires source platform credentials outside local/dev environments.
func LoadForWorker() (Config, error) {
	return load(true)
}

func load(requireSourceCredentials bool) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("docmirror_env", "")
	v.SetDefault("app_env", "")
	v.SetDefault("go_env", "")
	v.SetDefault("docmirror_port", 8080)
	v.SetDefault("docmirror_metrics_port", 9090)
	v.SetDefault("docmirror_db_path", "data/docmirror")
	v.SetDefault("docmirror_db_timing", false)
	v.SetDefault("db_host", "")
	v.SetDefault("db_port", 5432)
	v.SetDefault("db_name", "docmirror")
	v.SetDefault("db_user", "")
	v.SetDefault("db_password", "")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("item_table", "items")
	v.SetDefault("collaboration_table", "collaborations")
	v.SetDefault("docmirror_otel_enabled", false)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_exporter_otlp_headers", "")
	v.SetDefault("otel_exporter_otlp_traces_headers", "")
	v.SetDefault("otel_exporter_otlp_metrics_headers", "")
	v.SetDefault("otel_service_name", "")
	v.SetDefault("docmirror_service_name", "docmirror")
	v.SetDefault("docmirror_version", "dev")
	v.SetDefault("otel_service_version", "")
	v.SetDefault("docmirror_otel_sampling_ratio", 1.0)
	v.SetDefault("docmirror_otel_metrics_console", false)
	v.SetDefault("sqs_queue_name", "")
	v.SetDefault("queue_name", "box-notifications")
	v.SetDefault("ordering_mode", OrderingTotal)
	v.SetDefault("visibility_timeout", "30s")
	v.SetDefault("dedup_window", "5m")
	v.SetDefault("max_receive_count", 5)
	v.SetDefault("dlq_retention", "336h")
	v.SetDefault("queue_poll_interval", "1s")
	v.SetDefault("worker_concurrency", 1)
	v.SetDefault("box_root_folder_ids", "")
	v.SetDefault("skip_existing_items", false)
	v.SetDefault("crawl_schedule", "@daily")
	v.SetDefault("crawl_lease_ttl", "6h")
	v.SetDefault("mirror_store_url", "")
	v.SetDefault("bucket_name", "")
	v.SetDefault("s3_endpoint", "s3.amazonaws.com")
	v.SetDefault("s3_access_key_id", "")
	v.SetDefault("s3_secret_access_key", "")
	v.SetDefault("s3_region", "")
	v.SetDefault("s3_use_ssl", true)
	v.SetDefault("box_api_url", "https://api.box.com/2.0")
	v.SetDefault("box_token_url", "https://api.box.com/oauth2/token")
	v.SetDefault("box_developer_token", "")
	v.SetDefault("box_client_id", "")
	v.SetDefault("box_client_secret", "")
	v.SetDefault("box_subject_type", "enterprise")
	v.SetDefault("box_subject_id", "")
	v.SetDefault("box_webhook_primary_key", "")
	v.SetDefault("box_webhook_secondary_key", "")
	v.SetDefault("box_timeout", "20s")
	v.SetDefault("redis_url", "")
	v.SetDefault("index_sync_notify_url", "")

	env := resolveEnvironment(v)
	port := v.GetInt("docmirror_port")
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("invalid DOCMIRROR_PORT: %d", port)
	}
	metricsPort := v.GetInt("docmirror_metrics_port")
	if metricsPort <= 0 || metricsPort > 65535 {
		return Config{}, fmt.Errorf("invalid DOCMIRROR_METRICS_PORT: %d", metricsPort)
	}

	samplingRatio := v.GetFloat64("docmirror_otel_sampling_ratio")
	if samplingRatio < 0 {
		samplingRatio = 0
	}
	if samplingRatio > 1 {
		samplingRatio = 1
	}

	orderingMode := strings.ToLower(strings.TrimSpace(v.GetString("ordering_mode")))
	switch orderingMode {
	case "", OrderingTotal:
		orderingMode = OrderingTotal
	case OrderingPerItem:
	default:
		return Config{}, fmt.Errorf("invalid ORDERING_MODE: %q", orderingMode)
	}

	maxReceiveCount := v.GetInt("max_receive_count")
	if maxReceiveCount <= 0 {
		maxReceiveCount = 5
	}
	if maxReceiveCount > 1000 {
		maxReceiveCount = 1000
	}

	concurrency := v.GetInt("worker_concurrency")
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > 64 {
		concurrency = 64
	}

	visibility := durationOr(v.GetDuration("visibility_timeout"), 30*time.Second)
	dedupWindow := durationOr(v.GetDuration("dedup_window"), 5*time.Minute)
	retention := durationOr(v.GetDuration("dlq_retention"), 14*24*time.Hour)
	pollInterval := durationOr(v.GetDuration("queue_poll_interval"), time.Second)
	leaseTTL := durationOr(v.GetDuration("crawl_lease_ttl"), 6*time.Hour)
	boxTimeout := durationOr(v.GetDuration("box_timeout"), 20*time.Second)

	queueName := strings.TrimSpace(v.GetString("sqs_queue_name"))
	if queueName == "" {
		queueName = strings.TrimSpace(v.GetString("queue_name"))
	}
	if queueName == "" {
		queueName = "box-notifications"
	}

	serviceName := strings.TrimSpace(v.GetString("otel_service_name"))
	if serviceName == "" {
		serviceName = strings.TrimSpace(v.GetString("docmirror_service_name"))
	}
	if serviceName == "" {
		serviceName = "docmirror"
	}

	serviceVersion := strings.TrimSpace(v.GetString("docmirror_version"))
	if serviceVersion == "" {
		serviceVersion = strings.TrimSpace(v.GetString("otel_service_version"))
	}
	if serviceVersion == "" {
		serviceVersion = "dev"
	}

	otlpEndpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	otlpCommonHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_headers"))
	otlpTraceHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_traces_headers"))
	otlpMetricHeaders := parseOTLPHeaders(v.GetString("otel_exporter_otlp_metrics_headers"))
	metricsConsole := v.GetBool("docmirror_otel_metrics_console")
	otelEnabled := v.GetBool("docmirror_otel_enabled") || otlpEndpoint != "" || metricsConsole

	bucket := strings.TrimSpace(v.GetString("bucket_name"))
	mirrorURL := strings.TrimSpace(v.GetString("mirror_store_url"))
	if mirrorURL == "" && bucket != "" {
		mirrorURL = "s3://" + bucket
	}

	cfg := Config{
		Environment: env,
		Server:      ServerConfig{Port: port, MetricsPort: metricsPort},
		Database: DatabaseConfig{
			Path:               strings.TrimSpace(v.GetString("docmirror_db_path")),
			LogTiming:          v.GetBool("docmirror_db_timing"),
			Host:               strings.TrimSpace(v.GetString("db_host")),
			Port:               v.GetInt("db_port"),
			Name:               strings.TrimSpace(v.GetString("db_name")),
			User:               strings.TrimSpace(v.GetString("db_user")),
			Password:           v.GetString("db_password"),
			SSLMode:            strings.TrimSpace(v.GetString("db_sslmode")),
			ItemTable:          strings.TrimSpace(v.GetString("item_table")),
			CollaborationTable: strings.TrimSpace(v.GetString("collaboration_table")),
		},
		Observability: ObservabilityConfig{
			Enabled:           otelEnabled,
			OTLPEndpoint:      otlpEndpoint,
			OTLPTraceHeaders:  mergeHeaderMaps(otlpCommonHeaders, otlpTraceHeaders),
			OTLPMetricHeaders: mergeHeaderMaps(otlpCommonHeaders, otlpMetricHeaders),
			ServiceName:       serviceName,
			ServiceVer:        serviceVersion,
			SamplingRatio:     samplingRatio,
			MetricsConsole:    metricsConsole,
		},
		Queue: QueueConfig{
			Name:              queueName,
			OrderingMode:      orderingMode,
			VisibilityTimeout: visibility,
			DedupWindow:       dedupWindow,
			MaxReceiveCount:   maxReceiveCount,
			DLQRetention:      retention,
			PollInterval:      pollInterval,
		},
		Worker: WorkerConfig{
			Concurrency:   concurrency,
			RootFolderIDs: parseIDList(v.GetString("box_root_folder_ids")),
			SkipExisting:  v.GetBool("skip_existing_items"),
			CrawlSchedule: strings.TrimSpace(v.GetString("crawl_schedule")),
			CrawlLeaseTTL: leaseTTL,
		},
		Mirror: MirrorConfig{
			URL:             mirrorURL,
			Bucket:          bucket,
			Endpoint:        strings.TrimSpace(v.GetString("s3_endpoint")),
			AccessKeyID:     strings.TrimSpace(v.GetString("s3_access_key_id")),
			SecretAccessKey: strings.TrimSpace(v.GetString("s3_secret_access_key")),
			Region:          strings.TrimSpace(v.GetString("s3_region")),
			UseSSL:          v.GetBool("s3_use_ssl"),
		},
		Box: BoxConfig{
			APIURL:              strings.TrimRight(strings.TrimSpace(v.GetString("box_api_url")), "/"),
			TokenURL:            strings.TrimSpace(v.GetString("box_token_url")),
			DeveloperToken:      strings.TrimSpace(v.GetString("box_developer_token")),
			ClientID:            strings.TrimSpace(v.GetString("box_client_id")),
			ClientSecret:        strings.TrimSpace(v.GetString("box_client_secret")),
			SubjectType:         strings.TrimSpace(v.GetString("box_subject_type")),
			SubjectID:           strings.TrimSpace(v.GetString("box_subject_id")),
			WebhookPrimaryKey:   strings.TrimSpace(v.GetString("box_webhook_primary_key")),
			WebhookSecondaryKey: strings.TrimSpace(v.GetString("box_webhook_secondary_key")),
			Timeout:             boxTimeout,
		},
		Lease:     LeaseConfig{RedisURL: strings.TrimSpace(v.GetString("redis_url"))},
		IndexSync: IndexSyncConfig{NotifyURL: strings.TrimSpace(v.GetString("index_sync_notify_url"))},
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/docmirror"
	}
	if cfg.Database.ItemTable == "" {
		cfg.Database.ItemTable = "items"
	}
	if cfg.Database.CollaborationTable == "" {
		cfg.Database.CollaborationTable = "collaborations"
	}
	if !validTableName(cfg.Database.ItemTable) {
		return Config{}, fmt.Errorf("invalid ITEM_TABLE: %q", cfg.Database.ItemTable)
	}
	if !validTableName(cfg.Database.CollaborationTable) {
		return Config{}, fmt.Errorf("invalid COLLABORATION_TABLE: %q", cfg.Database.CollaborationTable)
	}
	if cfg.Database.ItemTable == cfg.Database.CollaborationTable {
		return Config{}, fmt.Errorf("ITEM_TABLE and COLLABORATION_TABLE must differ")
	}
	if cfg.Mirror.URL == "" && cfg.IsLocalDevelopment() {
		cfg.Mirror.URL = "file://data/mirror"
	}

	if requireSourceCredentials {
		if cfg.Mirror.URL == "" {
			return Config{}, fmt.Errorf("MIRROR_STORE_URL or BUCKET_NAME is required")
		}
		if !cfg.Box.HasCredentials() && !cfg.IsLocalDevelopment() {
			return Config{}, fmt.Errorf("BOX_DEVELOPER_TOKEN or BOX_CLIENT_ID/BOX_CLIENT_SECRET is required outside local/dev environments")
		}
	}

	return cfg, nil
}

func parseOTLPHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func mergeHeaderMaps(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// parseIDList splits a comma separated id list, dropping blanks and duplicates.
func parseIDList(raw string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

func validTableName(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func (c Config) IsLocalDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "", "local", "dev", "development", "test":
		return true
	default:
		return false
	}
}

// UsesPostgres reports whether metadata lives in PostgreSQL instead of the embedded SQLite file.
func (c DatabaseConfig) UsesPostgres() bool {
	return c.Host != ""
}

// PostgresDSN builds a lib/pq connection URL from the DB_* settings.
func (c DatabaseConfig) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.Host + ":" + strconv.Itoa(c.Port),
		Path:   "/" + c.Name,
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	query := url.Values{}
	if c.SSLMode != "" {
		query.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// HasCredentials reports whether any Box authentication method is configured.
func (c BoxConfig) HasCredentials() bool {
	return c.DeveloperToken != "" || (c.ClientID != "" && c.ClientSecret != "")
}

// SignatureKeys returns the configured webhook signing keys, primary first.
func (c BoxConfig) SignatureKeys() []string {
	keys := make([]string, 0, 2)
	if c.WebhookPrimaryKey != "" {
		keys = append(keys, c.WebhookPrimaryKey)
	}
	if c.WebhookSecondaryKey != "" {
		keys = append(keys, c.WebhookSecondaryKey)
	}
	return keys
}

func resolveEnvironment(v *viper.Viper) string {
	for _, key := range []string{"docmirror_env", "app_env", "go_env"} {
		value := strings.TrimSpace(v.GetString(key))
		if value != "" {
			return strings.ToLower(value)
		}
	}
	return ""
}
