package topic

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder("boardfarm/v1/")

	require.Equal(t, "boardfarm/v1/job/started/arm/tqma7d", b.JobStarted("arm/tqma7d"))
	require.Equal(t, "boardfarm/v1/job/finished/arm/tqma7d", b.JobFinished("arm/tqma7d"))
	require.Equal(t, "boardfarm/v1/job/finished/+/+", b.JobFinishedWildcard())
	require.Equal(t, "boardfarm/v1/power/fault/netio-lab", b.PowerFault("netio-lab"))
	require.Equal(t, "boardfarm/v1/power/fault/+", b.PowerFaultWildcard())
	require.Equal(t, "boardfarm/v1/server/status", b.ServerStatus())
}
