package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/opscart/k8s-workload-scaler/pkg/datasource"
	"github.com/opscart/k8s-workload-scaler/pkg/evaluator"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

// ManagementType selects how scaling decisions are made
type ManagementType string

const (
	PrometheusAlertAPI  ManagementType = "prometheus_alert_api"
	PrometheusMetricAPI ManagementType = "prometheus_metric_api"
	MetricsServerAPI    ManagementType = "metrics_server_api"
)

// SupportedManagementTypes lists every accepted management type
var SupportedManagementTypes = []ManagementType{PrometheusAlertAPI, PrometheusMetricAPI, MetricsServerAPI}

// Flag and config file keys
const (
	KeyWorkload          = "workload"
	KeyName              = "name"
	KeyNamespace         = "namespace"
	KeyScalingRange      = "scaling-range"
	KeyMaxReplicas       = "max-replicas"
	KeyMinReplicas       = "min-replicas"
	KeyInterval          = "interval"
	KeyManagementType    = "management-type"
	KeyPrometheusURL     = "prometheus-url"
	KeyMetricName        = "metric-name"
	KeyLabel             = "label"
	KeyScaleOutThreshold = "scale-out-threshold"
	KeyScaleInThreshold  = "scale-in-threshold"
	KeyRateInterval      = "rate-interval"
	KeyPartitionLabel    = "partition-label"
	KeyScaleOutAlertName = "scale-out-alert-name"
	KeyScaleInAlertName  = "scale-in-alert-name"
	KeyKubeconfig        = "kubeconfig"
	KeyCluster           = "cluster"
	KeyStorageEnabled    = "storage-enabled"
	KeyDatabaseURL       = "database-url"
	KeyMetricsAddr       = "metrics-addr"
	KeyDryRun            = "dry-run"
	KeyStrictBounds      = "strict-bounds"
)

// EnvPrefix is prepended to every key when read from the environment
const EnvPrefix = "SCALER"

// Config holds application configuration
type Config struct {
	// Workload
	Workload     string
	Name         string
	Namespace    string
	ScalingRange int32
	MaxReplicas  int32
	MinReplicas  int32

	// Loop
	Interval       time.Duration
	ManagementType ManagementType
	DryRun         bool
	StrictBounds   bool

	// Prometheus
	PrometheusURL string

	// Rate evaluation
	MetricName        string
	Labels            map[string]string
	ScaleOutThreshold float64
	ScaleInThreshold  float64
	RateInterval      time.Duration
	PartitionLabel    string

	// Alert evaluation
	ScaleOutAlertName string
	ScaleInAlertName  string

	// Clusters
	Kubeconfig string
	Clusters   map[string]string // partition key -> kubeconfig context

	// Storage
	StorageEnabled bool
	DatabaseURL    string

	// Telemetry
	MetricsAddr string
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	return &Config{
		ScalingRange:   1,
		Interval:       60 * time.Second,
		ManagementType: PrometheusAlertAPI,
		PrometheusURL:  "http://localhost:9090",
		Labels:         map[string]string{},
		RateInterval:   300 * time.Second,
		PartitionLabel: "cluster",
		Clusters:       map[string]string{},
		StorageEnabled: false,
		DatabaseURL:    "host=localhost port=5432 user=scaler password=devpassword dbname=scaler sslmode=disable",
	}
}

// BindFlags registers every key on flags with its default
func BindFlags(flags *pflag.FlagSet) {
	d := NewConfig()

	flags.StringP(KeyWorkload, "w", "", fmt.Sprintf("Workload kind (%v)", models.SupportedKinds))
	flags.String(KeyName, "", "Workload name")
	flags.StringP(KeyNamespace, "n", "", "Workload namespace")
	flags.Int32P(KeyScalingRange, "s", d.ScalingRange, "Replicas added or removed per scaling step")
	flags.Int32(KeyMaxReplicas, 0, "Maximum number of replicas")
	flags.Int32(KeyMinReplicas, 0, "Minimum number of replicas")
	flags.Duration(KeyInterval, d.Interval, "Time between control loop cycles")
	flags.String(KeyManagementType, string(d.ManagementType), fmt.Sprintf("Decision source (%v)", SupportedManagementTypes))
	flags.String(KeyPrometheusURL, d.PrometheusURL, "Prometheus server URL")
	flags.String(KeyMetricName, "", "Metric whose rate of change drives scaling")
	flags.StringToString(KeyLabel, nil, "Label selector for the metric, e.g. app=web")
	flags.Float64(KeyScaleOutThreshold, 0, "Scale out when the rate exceeds this value (per second)")
	flags.Float64(KeyScaleInThreshold, 0, "Scale in when the rate drops below this value (per second)")
	flags.Duration(KeyRateInterval, d.RateInterval, "Time between the two metric samples")
	flags.String(KeyPartitionLabel, d.PartitionLabel, "Label that partitions samples and alerts by cluster")
	flags.String(KeyScaleOutAlertName, "", "Alert that triggers scaling out")
	flags.String(KeyScaleInAlertName, "", "Alert that triggers scaling in")
	flags.String(KeyKubeconfig, "", "Path to kubeconfig (default $KUBECONFIG or ~/.kube/config)")
	flags.StringToString(KeyCluster, nil, "Partition to kubeconfig context mapping, e.g. east=prod-east")
	flags.Bool(KeyStorageEnabled, d.StorageEnabled, "Record scale events to PostgreSQL")
	flags.String(KeyDatabaseURL, d.DatabaseURL, "PostgreSQL connection string")
	flags.String(KeyMetricsAddr, "", "Serve Prometheus metrics on this address, e.g. :8080")
	flags.Bool(KeyDryRun, false, "Log scaling actions without applying them")
	flags.Bool(KeyStrictBounds, false, "Clamp every target into [min, max]")
}

// NewViper returns a viper instance reading flags, SCALER_* environment
// variables and, when configFile is set, a config file
func NewViper(flags *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for existing deployments
	for key, env := range map[string]string{
		KeyPrometheusURL:  "PROMETHEUS_URL",
		KeyDatabaseURL:    "DATABASE_URL",
		KeyStorageEnabled: "STORAGE_ENABLED",
	} {
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return v, nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Load builds a Config from v
func Load(v *viper.Viper) (*Config, error) {
	labels, err := stringMap(v, KeyLabel)
	if err != nil {
		return nil, err
	}
	clusters, err := stringMap(v, KeyCluster)
	if err != nil {
		return nil, err
	}
	interval, err := seconds(v, KeyInterval)
	if err != nil {
		return nil, err
	}
	rateInterval, err := seconds(v, KeyRateInterval)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Workload:          v.GetString(KeyWorkload),
		Name:              v.GetString(KeyName),
		Namespace:         v.GetString(KeyNamespace),
		ScalingRange:      v.GetInt32(KeyScalingRange),
		MaxReplicas:       v.GetInt32(KeyMaxReplicas),
		MinReplicas:       v.GetInt32(KeyMinReplicas),
		Interval:          interval,
		ManagementType:    ManagementType(v.GetString(KeyManagementType)),
		DryRun:            v.GetBool(KeyDryRun),
		StrictBounds:      v.GetBool(KeyStrictBounds),
		PrometheusURL:     v.GetString(KeyPrometheusURL),
		MetricName:        v.GetString(KeyMetricName),
		Labels:            labels,
		ScaleOutThreshold: v.GetFloat64(KeyScaleOutThreshold),
		ScaleInThreshold:  v.GetFloat64(KeyScaleInThreshold),
		RateInterval:      rateInterval,
		PartitionLabel:    v.GetString(KeyPartitionLabel),
		ScaleOutAlertName: v.GetString(KeyScaleOutAlertName),
		ScaleInAlertName:  v.GetString(KeyScaleInAlertName),
		Kubeconfig:        v.GetString(KeyKubeconfig),
		Clusters:          clusters,
		StorageEnabled:    v.GetBool(KeyStorageEnabled),
		DatabaseURL:       v.GetString(KeyDatabaseURL),
		MetricsAddr:       v.GetString(KeyMetricsAddr),
	}

	return cfg, nil
}

// seconds reads a duration. Numbers without a unit are seconds, so
// "interval: 60" and SCALER_INTERVAL=60 both mean one minute.
func seconds(v *viper.Viper, key string) (time.Duration, error) {
	switch raw := v.Get(key).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return raw, nil
	case string:
		s := strings.TrimSpace(raw)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return secondsToDuration(n), nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q, use seconds or a unit such as 90s or 5m", key, raw)
		}
		return d, nil
	default:
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %v (%T)", key, raw, raw)
		}
		return secondsToDuration(n), nil
	}
}

func secondsToDuration(n float64) time.Duration {
	return time.Duration(n * float64(time.Second))
}

// stringMap reads key=value maps from flags ("a=b,c=d"), environment
// variables (same form) or a config file (a mapping)
func stringMap(v *viper.Viper, key string) (map[string]string, error) {
	out := map[string]string{}

	switch raw := v.Get(key).(type) {
	case nil:
	case string:
		return parseKeyValues(key, raw)
	case map[string]string:
		for k, val := range raw {
			out[k] = val
		}
	case map[string]interface{}:
		for k, val := range raw {
			out[k] = fmt.Sprint(val)
		}
	default:
		return nil, fmt.Errorf("%s: expected key=value pairs, got %T", key, raw)
	}

	return out, nil
}

func parseKeyValues(key, raw string) (map[string]string, error) {
	out := map[string]string{}
	raw = strings.Trim(raw, "[]")
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%s: invalid pair %q, expected key=value", key, pair)
		}
		out[k] = val
	}
	return out, nil
}

// Target converts the workload settings into a WorkloadTarget
func (c *Config) Target() (models.WorkloadTarget, error) {
	kind, err := models.ParseWorkloadKind(c.Workload)
	if err != nil {
		return models.WorkloadTarget{}, err
	}
	return models.WorkloadTarget{
		Kind:         kind,
		Name:         c.Name,
		Namespace:    c.Namespace,
		ScalingRange: c.ScalingRange,
		MaxReplicas:  c.MaxReplicas,
		MinReplicas:  c.MinReplicas,
	}, nil
}

// RateConfig returns the rate evaluator settings
func (c *Config) RateConfig() evaluator.RateConfig {
	return evaluator.RateConfig{
		MetricName:        c.MetricName,
		LabelSelector:     c.Labels,
		RateInterval:      c.RateInterval,
		ScaleOutThreshold: c.ScaleOutThreshold,
		ScaleInThreshold:  c.ScaleInThreshold,
	}
}

// AlertConfig returns the alert evaluator settings
func (c *Config) AlertConfig() evaluator.AlertConfig {
	return evaluator.AlertConfig{
		ScaleOutAlertName: c.ScaleOutAlertName,
		ScaleInAlertName:  c.ScaleInAlertName,
		PartitionLabel:    c.PartitionLabel,
	}
}

// ClusterNames returns the configured partition keys in sorted order
func (c *Config) ClusterNames() []string {
	names := make([]string, 0, len(c.Clusters))
	for name := range c.Clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	target, err := c.Target()
	if err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}

	if c.Interval < time.Second {
		return fmt.Errorf("interval must be at least 1s, got %v", c.Interval)
	}

	switch c.ManagementType {
	case PrometheusAlertAPI:
		if c.PrometheusURL == "" {
			return fmt.Errorf("%s requires %s", c.ManagementType, KeyPrometheusURL)
		}
		if err := c.AlertConfig().Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.ManagementType, err)
		}
	case PrometheusMetricAPI:
		if c.PrometheusURL == "" {
			return fmt.Errorf("%s requires %s", c.ManagementType, KeyPrometheusURL)
		}
		if err := c.RateConfig().Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.ManagementType, err)
		}
	case MetricsServerAPI:
		if err := c.RateConfig().Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.ManagementType, err)
		}
		if c.MetricName != datasource.MetricCPU && c.MetricName != datasource.MetricMemory {
			return fmt.Errorf("%s: metric name must be %s or %s, got %q",
				c.ManagementType, datasource.MetricCPU, datasource.MetricMemory, c.MetricName)
		}
	default:
		return fmt.Errorf("unsupported management type %q (supported: %v)", c.ManagementType, SupportedManagementTypes)
	}

	if c.StorageEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when storage is enabled")
	}

	return nil
}

// Summary describes the effective configuration for startup logs
func (c *Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workload:        %s %s/%s\n", c.Workload, c.Namespace, c.Name)
	fmt.Fprintf(&b, "Replicas:        min=%d max=%d step=%d\n", c.MinReplicas, c.MaxReplicas, c.ScalingRange)
	fmt.Fprintf(&b, "Management type: %s (every %v)\n", c.ManagementType, c.Interval)
	if len(c.Clusters) > 0 {
		fmt.Fprintf(&b, "Clusters:        %s\n", strings.Join(c.ClusterNames(), ", "))
	}
	fmt.Fprintf(&b, "Storage:         %t\n", c.StorageEnabled)
	fmt.Fprintf(&b, "Dry run:         %t\n", c.DryRun)
	return b.String()
}
