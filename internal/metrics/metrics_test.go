package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegister_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestSetBool(t *testing.T) {
	SetBool(Online, true)
	assert.Equal(t, float64(1), testutil.ToFloat64(Online))
	SetBool(Online, false)
	assert.Equal(t, float64(0), testutil.ToFloat64(Online))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(Deliveries.WithLabelValues("delivered"))
	Deliveries.WithLabelValues("delivered").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Deliveries.WithLabelValues("delivered")))
}
