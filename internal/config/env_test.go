package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("QUEUE_ROUTING_KEYS", "")
	t.Setenv("TASK_HEALTH_INTERVAL", "")
	cfg := FromEnv()
	if cfg.Health.Interval != 120*time.Second {
		t.Fatalf("health interval = %v, want 120s", cfg.Health.Interval)
	}
	if got := len(cfg.Queue.RoutingKeys); got != 3 {
		t.Fatalf("routing keys = %v", cfg.Queue.RoutingKeys)
	}
	if cfg.Worker.Retry.MaxRetries != 3 || cfg.Worker.Retry.IntervalStep != 0.2 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Worker.Retry)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_ROUTING_KEYS", " documents , pages ,")
	t.Setenv("WORKER_IDLE_SHUTDOWN", "90s")
	t.Setenv("DELETE_TEMP_FILES_ON_REQUEST_FINISH", "off")
	t.Setenv("WORKER_CONCURRENCY", "not-a-number")
	cfg := FromEnv()
	if len(cfg.Queue.RoutingKeys) != 2 || cfg.Queue.RoutingKeys[1] != "pages" {
		t.Fatalf("routing keys = %q", cfg.Queue.RoutingKeys)
	}
	if cfg.Worker.IdleShutdown != 90*time.Second {
		t.Fatalf("idle shutdown = %v", cfg.Worker.IdleShutdown)
	}
	if cfg.Pipeline.DeleteTempFilesOnFinish {
		t.Fatalf("expected temp file deletion disabled")
	}
	if cfg.Worker.Concurrency != 4 {
		t.Fatalf("concurrency fallback = %d, want 4", cfg.Worker.Concurrency)
	}
}
