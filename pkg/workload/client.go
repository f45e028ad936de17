package workload

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

var (
	// ErrTargetNotFound means the workload does not exist in the cluster
	ErrTargetNotFound = errors.New("workload not found")

	// ErrUnsupportedKind means the workload kind has no scale operation
	ErrUnsupportedKind = errors.New("unsupported workload kind")
)

// Client reads and changes the replica count of a workload
type Client interface {
	ReadReplicas(ctx context.Context, target models.WorkloadTarget) (int32, error)
	PatchReplicas(ctx context.Context, target models.WorkloadTarget, replicas int32) (models.ScaleOutcome, error)
}

// KubeClient implements Client on top of the typed Kubernetes clientset
type KubeClient struct {
	clientset kubernetes.Interface
	logger    logr.Logger
}

var _ Client = (*KubeClient)(nil)

func NewKubeClient(clientset kubernetes.Interface, logger logr.Logger) *KubeClient {
	return &KubeClient{
		clientset: clientset,
		logger:    logger,
	}
}

// ReadReplicas returns status.replicas of the workload
func (k *KubeClient) ReadReplicas(ctx context.Context, target models.WorkloadTarget) (int32, error) {
	k.logger.V(1).Info("Reading replicas", "kind", target.Kind, "workload", target.Name, "namespace", target.Namespace)

	var replicas int32
	var err error

	switch target.Kind {
	case models.KindDeployment:
		obj, getErr := k.clientset.AppsV1().Deployments(target.Namespace).Get(ctx, target.Name, metav1.GetOptions{})
		if getErr == nil {
			replicas = obj.Status.Replicas
		}
		err = getErr
	case models.KindStatefulSet:
		obj, getErr := k.clientset.AppsV1().StatefulSets(target.Namespace).Get(ctx, target.Name, metav1.GetOptions{})
		if getErr == nil {
			replicas = obj.Status.Replicas
		}
		err = getErr
	case models.KindReplicaSet:
		obj, getErr := k.clientset.AppsV1().ReplicaSets(target.Namespace).Get(ctx, target.Name, metav1.GetOptions{})
		if getErr == nil {
			replicas = obj.Status.Replicas
		}
		err = getErr
	case models.KindReplicationController:
		obj, getErr := k.clientset.CoreV1().ReplicationControllers(target.Namespace).Get(ctx, target.Name, metav1.GetOptions{})
		if getErr == nil {
			replicas = obj.Status.Replicas
		}
		err = getErr
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedKind, target.Kind)
	}

	if err != nil {
		return 0, wrapError(target, "read", err)
	}
	return replicas, nil
}

// PatchReplicas sets spec.replicas through the scale subresource. The outcome
// reports status.replicas of the returned scale as the old count.
func (k *KubeClient) PatchReplicas(ctx context.Context, target models.WorkloadTarget, replicas int32) (models.ScaleOutcome, error) {
	scale, err := k.getScale(ctx, target)
	if err != nil {
		return models.ScaleOutcome{}, wrapError(target, "get scale of", err)
	}

	scale.Spec.Replicas = replicas

	updated, err := k.updateScale(ctx, target, scale)
	if err != nil {
		return models.ScaleOutcome{}, wrapError(target, "scale", err)
	}

	k.logger.Info("Workload scaled", "kind", target.Kind, "workload", target.Name,
		"namespace", target.Namespace, "replicas", replicas)

	return models.ScaleOutcome{
		OldReplicas: updated.Status.Replicas,
		NewReplicas: updated.Spec.Replicas,
	}, nil
}

func (k *KubeClient) getScale(ctx context.Context, target models.WorkloadTarget) (*autoscalingv1.Scale, error) {
	switch target.Kind {
	case models.KindDeployment:
		return k.clientset.AppsV1().Deployments(target.Namespace).GetScale(ctx, target.Name, metav1.GetOptions{})
	case models.KindStatefulSet:
		return k.clientset.AppsV1().StatefulSets(target.Namespace).GetScale(ctx, target.Name, metav1.GetOptions{})
	case models.KindReplicaSet:
		return k.clientset.AppsV1().ReplicaSets(target.Namespace).GetScale(ctx, target.Name, metav1.GetOptions{})
	case models.KindReplicationController:
		return k.clientset.CoreV1().ReplicationControllers(target.Namespace).GetScale(ctx, target.Name, metav1.GetOptions{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, target.Kind)
	}
}

func (k *KubeClient) updateScale(ctx context.Context, target models.WorkloadTarget, scale *autoscalingv1.Scale) (*autoscalingv1.Scale, error) {
	switch target.Kind {
	case models.KindDeployment:
		return k.clientset.AppsV1().Deployments(target.Namespace).UpdateScale(ctx, target.Name, scale, metav1.UpdateOptions{})
	case models.KindStatefulSet:
		return k.clientset.AppsV1().StatefulSets(target.Namespace).UpdateScale(ctx, target.Name, scale, metav1.UpdateOptions{})
	case models.KindReplicaSet:
		return k.clientset.AppsV1().ReplicaSets(target.Namespace).UpdateScale(ctx, target.Name, scale, metav1.UpdateOptions{})
	case models.KindReplicationController:
		return k.clientset.CoreV1().ReplicationControllers(target.Namespace).UpdateScale(ctx, target.Name, scale, metav1.UpdateOptions{})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, target.Kind)
	}
}

func wrapError(target models.WorkloadTarget, op string, err error) error {
	if errors.Is(err, ErrUnsupportedKind) {
		return err
	}
	if apierrors.IsNotFound(err) {
		return fmt.Errorf("%w: %s: %w", ErrTargetNotFound, target, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, target, err)
}
