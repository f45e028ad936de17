package workload

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"
)

// ErrUnknownCluster means a decision named a partition with no configured cluster
var ErrUnknownCluster = errors.New("unknown cluster")

// ClusterSet routes a partition key to the workload client of that cluster.
// The empty key is the default cluster. While no named cluster is
// configured every key routes to the default cluster.
type ClusterSet struct {
	def      Client
	clusters map[string]Client
	logger   logr.Logger

	fallbackOnce sync.Once
}

// NewClusterSet creates a set with only the default cluster
func NewClusterSet(def Client) *ClusterSet {
	return &ClusterSet{
		def:      def,
		clusters: make(map[string]Client),
	}
}

// WithLogger sets the logger used to report default cluster fallback
func (s *ClusterSet) WithLogger(logger logr.Logger) *ClusterSet {
	s.logger = logger
	return s
}

// Add registers the client for a named cluster
func (s *ClusterSet) Add(name string, client Client) {
	s.clusters[name] = client
}

// For returns the client serving partition key
func (s *ClusterSet) For(key string) (Client, error) {
	if key == "" {
		return s.def, nil
	}
	if len(s.clusters) == 0 {
		s.fallbackOnce.Do(func() {
			s.logger.Info("No named clusters configured, routing every partition to the default cluster",
				"partition", key)
		})
		return s.def, nil
	}
	client, ok := s.clusters[key]
	if !ok {
		return nil, fmt.Errorf("%w %q (configured: %v)", ErrUnknownCluster, key, s.Names())
	}
	return client, nil
}

// Names lists the named clusters
func (s *ClusterSet) Names() []string {
	names := make([]string, 0, len(s.clusters))
	for name := range s.clusters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clientsets bundles the API clients built for one cluster
type Clientsets struct {
	Kubernetes kubernetes.Interface
	Metrics    metricsv.Interface
}

// ClientBuilder builds API clients from in-cluster config or a kubeconfig
type ClientBuilder struct {
	kubeconfig string
	logger     logr.Logger
}

func NewClientBuilder(kubeconfig string, logger logr.Logger) *ClientBuilder {
	return &ClientBuilder{
		kubeconfig: kubeconfig,
		logger:     logger,
	}
}

// Build creates clients for kubeContext. An empty context prefers in-cluster
// config and falls back to the kubeconfig's current context.
func (b *ClientBuilder) Build(kubeContext string) (*Clientsets, error) {
	config, err := b.buildConfig(kubeContext)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	metricsClient, err := metricsv.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}

	return &Clientsets{
		Kubernetes: clientset,
		Metrics:    metricsClient,
	}, nil
}

func (b *ClientBuilder) buildConfig(kubeContext string) (*rest.Config, error) {
	if kubeContext == "" {
		config, err := rest.InClusterConfig()
		if err == nil {
			b.logger.Info("Using in-cluster Kubernetes configuration")
			return config, nil
		}
	}

	kubeconfig := b.kubeconfigPath()
	if kubeconfig == "" {
		return nil, fmt.Errorf("could not find kubeconfig and not running in-cluster")
	}

	b.logger.Info("Using kubeconfig", "path", kubeconfig, "context", kubeContext)
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
		&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
	).ClientConfig()
}

func (b *ClientBuilder) kubeconfigPath() string {
	if b.kubeconfig != "" {
		return b.kubeconfig
	}
	if kubeconfig := os.Getenv("KUBECONFIG"); kubeconfig != "" {
		return kubeconfig
	}
	if home := homedir.HomeDir(); home != "" {
		return filepath.Join(home, ".kube", "config")
	}
	return ""
}
