package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-workload-scaler/pkg/models"
)

func TestObserveCycle(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveCycle(CycleSucceeded, time.Second)
	r.ObserveCycle(CycleSucceeded, 2*time.Second)
	r.ObserveCycle(CycleFailed, time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cycles.WithLabelValues(CycleSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues(CycleFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.cycleDuration))
}

func TestObserveDecision(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveDecision(models.ScaleOut)
	r.ObserveDecision(models.NoScale)
	r.ObserveDecision(models.ScaleOut)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.decisions.WithLabelValues("SCALE_OUT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.decisions.WithLabelValues("NONE")))
}

func TestObserveScale(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ObserveScale(models.ScaleEvent{Cluster: "east", Namespace: "default", Name: "web",
		Status: models.ScaleSucceeded, OldReplicas: 3, NewReplicas: 4})
	r.ObserveScale(models.ScaleEvent{Cluster: "east", Namespace: "default", Name: "web",
		Status: models.ScaleSucceeded, NewReplicas: 9, DryRun: true})
	r.ObserveScale(models.ScaleEvent{Cluster: "east", Namespace: "default", Name: "web",
		Status: models.ScaleFailed})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.scaleEvents.WithLabelValues("east", "SUCCESS", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scaleEvents.WithLabelValues("east", "SUCCESS", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.scaleEvents.WithLabelValues("east", "FAILED", "false")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.currentReplica.WithLabelValues("east", "default", "web")))
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveCycle(CycleFailed, time.Second)
		r.ObserveDecision(models.ScaleIn)
		r.ObserveScale(models.ScaleEvent{})
	})
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.ObserveDecision(models.ScaleIn)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg, testr.New(t)) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, strings.Contains(body, `workload_scaler_decisions_total{direction="SCALE_IN"} 1`))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
