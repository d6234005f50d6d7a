package clickhouse

import (
	"testing"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
)

func TestBuildOptions(t *testing.T) {
	cfg := ClientConfig{
		Host:         "ch.local",
		Port:         8123,
		Database:     "fx",
		User:         "u",
		Password:     "p",
		UseHTTP:      true,
		AsyncInsert:  true,
		WaitForAsync: true,
		MaxExecTime:  30 * time.Second,
		DialTimeout:  time.Second,
	}
	opts := buildOptions(cfg)

	if len(opts.Addr) != 1 || opts.Addr[0] != "ch.local:8123" {
		t.Fatalf("addr = %v", opts.Addr)
	}
	if opts.Protocol != ch.HTTP {
		t.Errorf("expected http protocol")
	}
	if opts.Auth.Database != "fx" || opts.Auth.Username != "u" {
		t.Errorf("auth = %+v", opts.Auth)
	}
	if opts.Settings["max_execution_time"] != 30 {
		t.Errorf("max_execution_time = %v", opts.Settings["max_execution_time"])
	}
	if opts.Settings["async_insert"] != 1 || opts.Settings["wait_for_async_insert"] != 1 {
		t.Errorf("async settings = %v", opts.Settings)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(WithDatabase("fx")); err == nil {
		t.Fatalf("expected error without host")
	}
}

func TestBuildOptionsDefaults(t *testing.T) {
	cfg := defaultConfig()
	WithAddress("ch.local", 0)(cfg)
	WithTimeouts(0, 0, time.Minute)(cfg)
	opts := buildOptions(*cfg)

	if opts.Addr[0] != "ch.local:9000" {
		t.Fatalf("addr = %v", opts.Addr)
	}
	if opts.Protocol != ch.Native {
		t.Errorf("expected native protocol")
	}
	if opts.Compression == nil || opts.Compression.Method != ch.CompressionLZ4 {
		t.Errorf("compression = %+v", opts.Compression)
	}
	if _, ok := opts.Settings["async_insert"]; ok {
		t.Errorf("async insert should be off by default")
	}
	if cfg.WriteTimeout != time.Minute || cfg.ReadTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v", cfg.WriteTimeout, cfg.ReadTimeout)
	}
}
