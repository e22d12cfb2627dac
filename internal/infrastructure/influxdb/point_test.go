package influxdb

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

func TestAckPoint(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ack  protocol.Ack
		want []string
	}{
		{
			name: "success",
			ack:  protocol.Success("r1", protocol.CodeDispatched, nil),
			want: []string{"command_acks,", "code=DISPATCHED", "module=ndi", "ok=true", `req_id="r1"`},
		},
		{
			name: "failure",
			ack:  protocol.Failure("r2", protocol.ErrCodeNoLease, "nope"),
			want: []string{"code=no_lease", "ok=false", `req_id="r2"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := write.PointToLineProtocol(ackPoint("ndi", tt.ack, ts), time.Nanosecond)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
		})
	}
}

func TestJobFirePoint(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(jobFirePoint("led", "job-7", 3, 1, 2, ts), time.Nanosecond)

	for _, want := range []string{"job_fires,", `job_id="job-7"`, "module=led", "relayed=3i", "skipped=1i", "failed=2i"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}

	// Job ids are unbounded, so they must not become series.
	series, _, _ := strings.Cut(line, " ")
	if series != "job_fires,module=led" {
		t.Errorf("series key = %q, want job_fires,module=led", series)
	}
}
