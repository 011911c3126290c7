package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectors(t *testing.T) {
	before := testutil.ToFloat64(ResolutionsTotal.WithLabelValues("approved"))
	ResolutionsTotal.WithLabelValues("approved").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ResolutionsTotal.WithLabelValues("approved")))

	BreakerState.Set(1)
	assert.Equal(t, float64(1), testutil.ToFloat64(BreakerState))
	BreakerState.Set(0)
}
