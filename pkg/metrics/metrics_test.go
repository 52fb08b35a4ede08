package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounters(t *testing.T) {
	c := New(nil)
	require.NotNil(t, c.Registry())

	c.RecordResponse("INVITE", 200, 150*time.Millisecond)
	c.RecordResponse("INVITE", 486, time.Second)
	c.RecordResponse("INVITE", 200, time.Second)
	c.RecordFailure("BYE", ResultTimeout)
	c.RegistrationLost()
	c.KeepAliveUpdated(KeepAliveNegotiated)
	c.KeepAliveUpdated(KeepAliveDefault)
	c.SessionStarted()
	c.SessionStarted()
	c.SessionEnded()
	c.SessionTransition("Started")
	c.RecordError("NETWORK")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("INVITE", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("INVITE", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transactionsTotal.WithLabelValues("BYE", ResultTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.registrationLosses))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.keepAliveUpdates.WithLabelValues(KeepAliveNegotiated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stateTransitions.WithLabelValues("Started")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errorsTotal.WithLabelValues("NETWORK")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestInjectedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(&Config{Enabled: true, Namespace: "test", Subsystem: "core", Registerer: reg})
	assert.Nil(t, c.Registry())

	c.RegistrationLost()
	count, err := testutil.GatherAndCount(reg, "test_core_registration_losses_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDisabledAndNilCollector(t *testing.T) {
	var nilCollector *Collector
	assert.NotPanics(t, func() {
		nilCollector.RecordResponse("INVITE", 200, time.Second)
		nilCollector.RegistrationLost()
		nilCollector.SessionEnded()
	})

	disabled := New(&Config{Enabled: false})
	assert.NotPanics(t, func() {
		disabled.RecordFailure("BYE", ResultTransport)
		disabled.KeepAliveUpdated(KeepAliveDefault)
	})
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "1xx", StatusClass(180))
	assert.Equal(t, "4xx", StatusClass(403))
	assert.Equal(t, "6xx", StatusClass(603))
	assert.Equal(t, "invalid", StatusClass(42))
}
