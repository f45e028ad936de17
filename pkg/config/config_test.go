package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Failed to parse flags: %v", err)
	}
	return flags
}

func load(t *testing.T, configFile string, args ...string) *Config {
	t.Helper()
	v, err := NewViper(newFlags(t, args...), configFile)
	if err != nil {
		t.Fatalf("NewViper failed: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return cfg
}

func validAlertConfig() *Config {
	cfg := NewConfig()
	cfg.Workload = "Deployment"
	cfg.Name = "web"
	cfg.Namespace = "default"
	cfg.MinReplicas = 2
	cfg.MaxReplicas = 10
	cfg.ScaleOutAlertName = "scaling-out-name"
	cfg.ScaleInAlertName = "scaling-in-name"
	return cfg
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.ScalingRange != 1 {
		t.Errorf("Expected default scaling range 1, got %d", cfg.ScalingRange)
	}

	if cfg.Interval != 60*time.Second {
		t.Errorf("Expected interval 60s, got %v", cfg.Interval)
	}

	if cfg.RateInterval != 300*time.Second {
		t.Errorf("Expected rate interval 300s, got %v", cfg.RateInterval)
	}

	if cfg.PrometheusURL != "http://localhost:9090" {
		t.Errorf("Expected default Prometheus URL, got %s", cfg.PrometheusURL)
	}

	if cfg.ManagementType != PrometheusAlertAPI {
		t.Errorf("Expected management type %s, got %s", PrometheusAlertAPI, cfg.ManagementType)
	}
}

func TestLoadFromFlags(t *testing.T) {
	cfg := load(t, "",
		"-w", "statefulset", "--name", "db", "-n", "data",
		"--min-replicas", "1", "--max-replicas", "5", "--scaling-range", "2",
		"--management-type", "prometheus_metric_api", "--metric-name", "queue_depth",
		"--label", "app=db,tier=backend",
		"--scale-out-threshold", "0.5", "--scale-in-threshold", "-0.5",
		"--rate-interval", "30s", "--interval", "2m",
		"--cluster", "east=prod-east,west=prod-west",
		"--dry-run",
	)

	if cfg.Workload != "statefulset" || cfg.Name != "db" || cfg.Namespace != "data" {
		t.Errorf("Unexpected workload %s %s/%s", cfg.Workload, cfg.Namespace, cfg.Name)
	}

	if cfg.MinReplicas != 1 || cfg.MaxReplicas != 5 || cfg.ScalingRange != 2 {
		t.Errorf("Unexpected replicas min=%d max=%d range=%d", cfg.MinReplicas, cfg.MaxReplicas, cfg.ScalingRange)
	}

	if cfg.Labels["app"] != "db" || cfg.Labels["tier"] != "backend" || len(cfg.Labels) != 2 {
		t.Errorf("Unexpected labels %v", cfg.Labels)
	}

	if cfg.Clusters["east"] != "prod-east" || cfg.Clusters["west"] != "prod-west" {
		t.Errorf("Unexpected clusters %v", cfg.Clusters)
	}

	if cfg.RateInterval != 30*time.Second || cfg.Interval != 2*time.Minute {
		t.Errorf("Unexpected intervals rate=%v loop=%v", cfg.RateInterval, cfg.Interval)
	}

	if cfg.ScaleOutThreshold != 0.5 || cfg.ScaleInThreshold != -0.5 {
		t.Errorf("Unexpected thresholds out=%v in=%v", cfg.ScaleOutThreshold, cfg.ScaleInThreshold)
	}

	if !cfg.DryRun {
		t.Error("Expected dry run to be enabled")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PROMETHEUS_URL", "http://prometheus:9090")
	t.Setenv("STORAGE_ENABLED", "true")
	t.Setenv("SCALER_NAMESPACE", "from-env")
	t.Setenv("SCALER_LABEL", "app=web")

	cfg := load(t, "")

	if cfg.PrometheusURL != "http://prometheus:9090" {
		t.Errorf("Expected Prometheus URL from env, got %s", cfg.PrometheusURL)
	}

	if !cfg.StorageEnabled {
		t.Error("Expected storage enabled from env")
	}

	if cfg.Namespace != "from-env" {
		t.Errorf("Expected namespace from env, got %s", cfg.Namespace)
	}

	if cfg.Labels["app"] != "web" {
		t.Errorf("Expected label from env, got %v", cfg.Labels)
	}
}

func TestPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("PROMETHEUS_URL", "http://bare:9090")
	t.Setenv("SCALER_PROMETHEUS_URL", "http://prefixed:9090")

	cfg := load(t, "")

	if cfg.PrometheusURL != "http://prefixed:9090" {
		t.Errorf("Expected prefixed env to win, got %s", cfg.PrometheusURL)
	}
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaler.yaml")
	content := `
workload: Deployment
name: web
namespace: shop
min-replicas: 2
max-replicas: 8
scale-out-alert-name: HighLoad
scale-in-alert-name: LowLoad
cluster:
  east: prod-east
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := load(t, path, "--max-replicas", "12")

	if cfg.Namespace != "shop" {
		t.Errorf("Expected namespace from file, got %s", cfg.Namespace)
	}

	if cfg.MaxReplicas != 12 {
		t.Errorf("Expected flag to override file, got max=%d", cfg.MaxReplicas)
	}

	if cfg.Clusters["east"] != "prod-east" {
		t.Errorf("Expected cluster mapping from file, got %v", cfg.Clusters)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestUnitlessDurationsAreSeconds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaler.yaml")
	content := `
interval: 60
rate-interval: 300
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := load(t, path)

	if cfg.Interval != 60*time.Second {
		t.Errorf("Expected interval 60s from file, got %v", cfg.Interval)
	}

	if cfg.RateInterval != 300*time.Second {
		t.Errorf("Expected rate interval 300s from file, got %v", cfg.RateInterval)
	}
}

func TestUnitlessDurationFromEnvironment(t *testing.T) {
	t.Setenv("SCALER_INTERVAL", "30")
	t.Setenv("SCALER_RATE_INTERVAL", "2m")

	cfg := load(t, "")

	if cfg.Interval != 30*time.Second {
		t.Errorf("Expected interval 30s from env, got %v", cfg.Interval)
	}

	if cfg.RateInterval != 2*time.Minute {
		t.Errorf("Expected rate interval 2m from env, got %v", cfg.RateInterval)
	}
}

func TestDurationFlagKeepsUnit(t *testing.T) {
	cfg := load(t, "", "--interval", "45s")

	if cfg.Interval != 45*time.Second {
		t.Errorf("Expected interval 45s from flag, got %v", cfg.Interval)
	}
}

func TestInvalidDurationFails(t *testing.T) {
	t.Setenv("SCALER_INTERVAL", "soon")

	v, err := NewViper(newFlags(t), "")
	if err != nil {
		t.Fatalf("NewViper failed: %v", err)
	}
	if _, err := Load(v); err == nil {
		t.Error("Expected error for unparsable interval")
	}
}

func TestNewViperMissingConfigFile(t *testing.T) {
	_, err := NewViper(newFlags(t), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues("label", "[a=1, b=2]")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got["a"] != "1" || got["b"] != "2" {
		t.Errorf("Unexpected map %v", got)
	}

	if _, err := parseKeyValues("label", "novalue"); err == nil {
		t.Error("Expected error for pair without '='")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid alert config", func(*Config) {}, ""},
		{"unsupported kind", func(c *Config) { c.Workload = "CronJob" }, "unsupported workload kind"},
		{"missing name", func(c *Config) { c.Name = "" }, "name"},
		{"min equals max", func(c *Config) { c.MinReplicas = 10 }, "min replicas"},
		{"zero scaling range", func(c *Config) { c.ScalingRange = 0 }, "scaling range"},
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval"},
		{"sub-second interval", func(c *Config) { c.Interval = 500 * time.Millisecond }, "at least 1s"},
		{"missing alert name", func(c *Config) { c.ScaleInAlertName = "" }, "alert names"},
		{"unknown management type", func(c *Config) { c.ManagementType = "cloudwatch" }, "unsupported management type"},
		{
			name: "rate thresholds inverted",
			mutate: func(c *Config) {
				c.ManagementType = PrometheusMetricAPI
				c.MetricName = "requests"
				c.ScaleOutThreshold = -1
				c.ScaleInThreshold = 1
			},
			wantErr: "threshold",
		},
		{
			name: "metrics server without metric",
			mutate: func(c *Config) {
				c.ManagementType = MetricsServerAPI
				c.ScaleOutThreshold = 1
			},
			wantErr: "metric name",
		},
		{
			name: "metrics server with non resource metric",
			mutate: func(c *Config) {
				c.ManagementType = MetricsServerAPI
				c.MetricName = "requests"
				c.ScaleOutThreshold = 1
			},
			wantErr: "cpu or memory",
		},
		{
			name: "metrics server sub-second rate interval",
			mutate: func(c *Config) {
				c.ManagementType = MetricsServerAPI
				c.MetricName = "cpu"
				c.ScaleOutThreshold = 1
				c.RateInterval = 300 * time.Millisecond
			},
			wantErr: "at least 1s",
		},
		{
			name: "storage without database",
			mutate: func(c *Config) {
				c.StorageEnabled = true
				c.DatabaseURL = ""
			},
			wantErr: "DATABASE_URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validAlertConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTarget(t *testing.T) {
	cfg := validAlertConfig()
	cfg.Workload = "replicationcontroller"

	target, err := cfg.Target()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if target.Kind != "ReplicationController" {
		t.Errorf("Expected canonical kind, got %s", target.Kind)
	}
	if target.String() != "ReplicationController default/web" {
		t.Errorf("Unexpected target string %s", target.String())
	}
}

func TestSummary(t *testing.T) {
	cfg := validAlertConfig()
	cfg.Clusters = map[string]string{"west": "w", "east": "e"}

	summary := cfg.Summary()
	if !strings.Contains(summary, "east, west") {
		t.Errorf("Expected sorted cluster names in summary, got:\n%s", summary)
	}
}
