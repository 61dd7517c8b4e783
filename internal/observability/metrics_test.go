package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordModuleLoadCountsFailures(t *testing.T) {
	before := testutil.ToFloat64(moduleLoadFailures.WithLabelValues("file://broken.wasm"))

	RecordModuleLoad("file://broken.wasm", time.Millisecond, errors.New("boom"))
	RecordModuleLoad("file://broken.wasm", time.Millisecond, nil)

	after := testutil.ToFloat64(moduleLoadFailures.WithLabelValues("file://broken.wasm"))
	require.Equal(t, before+1, after)
}

func TestRecordRender(t *testing.T) {
	rowsBefore := testutil.ToFloat64(rowsRendered)
	failuresBefore := testutil.ToFloat64(renderFailures.WithLabelValues("missing_target"))

	RecordRender(3, "")
	RecordRender(0, "missing_target")

	require.Equal(t, rowsBefore+3, testutil.ToFloat64(rowsRendered))
	require.Equal(t, failuresBefore+1, testutil.ToFloat64(renderFailures.WithLabelValues("missing_target")))
}

func TestRecordActivityPersistedIgnoresZero(t *testing.T) {
	ts := time.Unix(1725519600, 0)
	RecordActivityPersisted(ts)
	RecordActivityPersisted(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(activityPersistGauge))
}
