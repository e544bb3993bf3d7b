package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/fr0stylo/docmirror/pkg/webhookclient"
)

var defaultTriggers = []string{"FILE.UPLOADED", "FILE.RENAMED", "FILE.MOVED", "FILE.TRASHED", "FOLDER.CREATED", "COLLABORATION.ACCEPTED"}

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	cfg, interval, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := webhookclient.Client{
		Endpoint:     cfg.Endpoint,
		PrimaryKey:   cfg.PrimaryKey,
		SecondaryKey: cfg.SecondaryKey,
		Timeout:      10 * time.Second,
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		notification := randomNotification(cfg)
		if err := client.Send(ctx, notification); err != nil {
			fmt.Fprintln(os.Stderr, "webhook error:", err)
		} else {
			fmt.Printf("Sent %s for %s\n", notification.Trigger, notification.SourceID)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func loadConfig(path string) (config, time.Duration, error) {
	if strings.TrimSpace(path) == "" {
		return config{}, 0, fmt.Errorf("config path is required")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return config{}, 0, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return config{}, 0, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Interval = strings.TrimSpace(cfg.Interval)
	if cfg.Endpoint == "" {
		return config{}, 0, fmt.Errorf("config must include endpoint")
	}
	if len(cfg.FileIDs) == 0 && len(cfg.FolderIDs) == 0 {
		return config{}, 0, fmt.Errorf("config must include file_ids or folder_ids")
	}
	if len(cfg.Triggers) == 0 {
		cfg.Triggers = defaultTriggers
	}
	if cfg.Interval == "" {
		return config{}, 0, fmt.Errorf("interval must be provided")
	}

	interval, err := time.ParseDuration(cfg.Interval)
	if err != nil {
		return config{}, 0, fmt.Errorf("invalid interval duration: %w", err)
	}
	if interval <= 0 {
		return config{}, 0, fmt.Errorf("interval must be positive")
	}

	return cfg, interval, nil
}

func randomNotification(cfg config) webhookclient.Notification {
	trigger := strings.ToUpper(strings.TrimSpace(cfg.Triggers[rand.IntN(len(cfg.Triggers))]))
	group, _, _ := strings.Cut(trigger, ".")

	pick := func(ids []string) string {
		if len(ids) == 0 {
			return ""
		}
		return ids[rand.IntN(len(ids))]
	}

	switch group {
	case "FOLDER":
		if id := pick(cfg.FolderIDs); id != "" {
			return webhookclient.Notification{Trigger: trigger, SourceID: id, SourceType: "folder"}
		}
	case "COLLABORATION":
		if id := pick(cfg.FileIDs); id != "" {
			return webhookclient.Notification{Trigger: trigger, SourceID: fmt.Sprintf("collab-%d", rand.IntN(1_000_000)), ItemID: id, ItemType: "file"}
		}
		return webhookclient.Notification{Trigger: trigger, SourceID: fmt.Sprintf("collab-%d", rand.IntN(1_000_000)), ItemID: pick(cfg.FolderIDs), ItemType: "folder"}
	}
	if id := pick(cfg.FileIDs); id != "" {
		return webhookclient.Notification{Trigger: trigger, SourceID: id, SourceType: "file"}
	}
	return webhookclient.Notification{Trigger: "FOLDER.CREATED", SourceID: pick(cfg.FolderIDs), SourceType: "folder"}
}
