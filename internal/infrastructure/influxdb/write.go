package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/lab-orchestrator-core/internal/protocol"
)

// Measurement names.
const (
	measurementAcks     = "command_acks"
	measurementJobFires = "job_fires"
)

// RecordAck writes one published ack. The write is non-blocking.
func (c *Client) RecordAck(module string, ack protocol.Ack) {
	c.write(ackPoint(module, ack, time.Now()))
}

// RecordJobFire writes the outcome of one scheduled job fire.
func (c *Client) RecordJobFire(module, jobID string, relayed, skipped, failed int) {
	c.write(jobFirePoint(module, jobID, relayed, skipped, failed, time.Now()))
}

// write queues p unless the client is nil or closed.
func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
	c.points.Add(1)
}

func ackPoint(module string, ack protocol.Ack, ts time.Time) *write.Point {
	code := ack.Result()
	ok := "false"
	if ack.OK {
		ok = "true"
		code = ack.Code
	}
	return write.NewPoint(
		measurementAcks,
		map[string]string{
			"module": module,
			"code":   code,
			"ok":     ok,
		},
		map[string]any{
			"count":  1,
			"req_id": ack.ReqID,
		},
		ts,
	)
}

func jobFirePoint(module, jobID string, relayed, skipped, failed int, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementJobFires,
		map[string]string{
			"module": module,
		},
		map[string]any{
			"job_id":  jobID,
			"relayed": relayed,
			"skipped": skipped,
			"failed":  failed,
		},
		ts,
	)
}
