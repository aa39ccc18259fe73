package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineCollectors(t *testing.T) {
	p := NewPipeline()
	p.Submitted.WithLabelValues("transfer").Inc()
	p.Submitted.WithLabelValues("airdrop").Add(2)
	p.Terminal.WithLabelValues("dropped").Inc()
	p.BroadcastAttempts.Observe(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(p.Submitted.WithLabelValues("airdrop")))
	assert.Equal(t, float64(1), testutil.ToFloat64(p.Terminal.WithLabelValues("dropped")))
	assert.Equal(t, 4, testutil.CollectAndCount(p.Submitted)+testutil.CollectAndCount(p.Terminal)+testutil.CollectAndCount(p.BroadcastAttempts))

	// Independent registries do not share state.
	assert.Equal(t, float64(0), testutil.ToFloat64(NewPipeline().Submitted.WithLabelValues("airdrop")))
}

func TestWriteTextfile(t *testing.T) {
	p := NewPipeline()
	p.Terminal.WithLabelValues("confirmed").Inc()

	require.NoError(t, p.WriteTextfile(""))

	path := filepath.Join(t.TempDir(), "ethwallet.prom")
	require.NoError(t, p.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ethwallet_tx_terminal_total{status="confirmed"} 1`)
}
