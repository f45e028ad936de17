//go:build e2e
// +build e2e

package e2e

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"k8s.io/utils/ptr"

	"github.com/opscart/k8s-workload-scaler/pkg/controller"
	"github.com/opscart/k8s-workload-scaler/pkg/models"
	"github.com/opscart/k8s-workload-scaler/pkg/workload"
)

// Run with: go test -tags=e2e ./tests/e2e -v
// Needs a cluster reachable through ~/.kube/config or $KUBECONFIG.

const testNamespace = "scaler-e2e"

func getKubernetesClient(t *testing.T) *kubernetes.Clientset {
	t.Helper()

	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		kubeconfig = filepath.Join(homedir.HomeDir(), ".kube", "config")
	}
	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		t.Fatalf("Failed to create clientset: %v", err)
	}

	return clientset
}

func createDeployment(t *testing.T, clientset kubernetes.Interface, name string, replicas int32) {
	t.Helper()
	ctx := context.Background()

	_, err := clientset.CoreV1().Namespaces().Create(ctx, &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{Name: testNamespace},
	}, metav1.CreateOptions{})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Failed to create namespace: %v", err)
	}

	labels := map[string]string{"app": name}
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: testNamespace},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: labels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{Name: "pause", Image: "registry.k8s.io/pause:3.9"}},
				},
			},
		},
	}
	if _, err := clientset.AppsV1().Deployments(testNamespace).Create(ctx, deployment, metav1.CreateOptions{}); err != nil {
		t.Fatalf("Failed to create deployment: %v", err)
	}

	t.Cleanup(func() {
		_ = clientset.AppsV1().Deployments(testNamespace).Delete(context.Background(), name, metav1.DeleteOptions{})
	})
}

func waitForReplicas(t *testing.T, client workload.Client, target models.WorkloadTarget, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		got, err := client.ReadReplicas(context.Background(), target)
		if err == nil && got == want {
			return
		}
		time.Sleep(2 * time.Second)
	}
	t.Fatalf("Deployment %s never reached %d replicas", target.Name, want)
}

func TestRealClusterConnection(t *testing.T) {
	clientset := getKubernetesClient(t)

	nodes, err := clientset.CoreV1().Nodes().List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("Failed to list nodes: %v", err)
	}

	if len(nodes.Items) == 0 {
		t.Fatal("No nodes found in cluster")
	}

	t.Logf("Connected to cluster with %d node(s)", len(nodes.Items))
}

func TestScaleDeploymentThroughBounds(t *testing.T) {
	clientset := getKubernetesClient(t)
	createDeployment(t, clientset, "e2e-bounds", 2)

	target := models.WorkloadTarget{
		Kind:         models.KindDeployment,
		Name:         "e2e-bounds",
		Namespace:    testNamespace,
		ScalingRange: 1,
		MinReplicas:  1,
		MaxReplicas:  3,
	}
	logger := testr.New(t)
	client := workload.NewKubeClient(clientset, logger)
	resolver, err := controller.NewReplicaBoundController(target, workload.NewClusterSet(client), false, logger)
	if err != nil {
		t.Fatalf("Failed to build controller: %v", err)
	}

	waitForReplicas(t, client, target, 2)

	ctx := context.Background()
	res, err := resolver.Resolve(ctx, models.ScalingDecision{Direction: models.ScaleOut})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Aborted || res.Target != 3 {
		t.Fatalf("Expected target 3, got %+v", res)
	}

	outcome, err := client.PatchReplicas(ctx, target, res.Target)
	if err != nil {
		t.Fatalf("PatchReplicas failed: %v", err)
	}
	if outcome.NewReplicas != 3 {
		t.Errorf("Expected spec replicas 3, got %d", outcome.NewReplicas)
	}
	waitForReplicas(t, client, target, 3)

	// At the ceiling another scale out is a no-op
	res, err = resolver.Resolve(ctx, models.ScalingDecision{Direction: models.ScaleOut})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.Aborted {
		t.Errorf("Expected abort at ceiling, got %+v", res)
	}
}

func TestMissingWorkload(t *testing.T) {
	clientset := getKubernetesClient(t)
	client := workload.NewKubeClient(clientset, testr.New(t))

	_, err := client.ReadReplicas(context.Background(), models.WorkloadTarget{
		Kind:      models.KindStatefulSet,
		Name:      "does-not-exist",
		Namespace: testNamespace,
	})
	if err == nil || !strings.Contains(err.Error(), workload.ErrTargetNotFound.Error()) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestWorkloadScalerCLIExecution(t *testing.T) {
	build := exec.Command("go", "build", "-o", "../../bin/workload-scaler", "../../cmd/workload-scaler")
	if output, err := build.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build workload-scaler: %v\n%s", err, output)
	}

	clientset := getKubernetesClient(t)
	createDeployment(t, clientset, "e2e-cli", 2)

	cmd := exec.Command("../../bin/workload-scaler", "once",
		"--workload", "Deployment", "--name", "e2e-cli", "--namespace", testNamespace,
		"--min-replicas", "1", "--max-replicas", "4",
		"--management-type", "metrics_server_api", "--metric-name", "cpu",
		"--label", "app=e2e-cli", "--scale-out-threshold", "1000", "--scale-in-threshold", "-1000",
		"--rate-interval", "5s", "--dry-run")
	output, err := cmd.CombinedOutput()
	t.Logf("Output:\n%s", output)
	if err != nil && !strings.Contains(string(output), "metrics unavailable") {
		t.Fatalf("workload-scaler once failed: %v", err)
	}
}
