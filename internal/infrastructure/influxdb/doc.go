// Package influxdb records the host's command and job history in InfluxDB.
//
// The Client satisfies the dispatcher's event sink, so every published ack
// and every scheduled job fire becomes a point:
//
//	command_acks  tags: module, code, ok            fields: count, req_id
//	job_fires     tags: module                      fields: job_id, relayed, skipped, failed
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without history
//	}
//	defer client.Close()
//
// Writes are batched and never block the caller; batch failures go to the
// SetOnError callback and are counted in Stats. A nil *Client is a valid
// no-op sink.
package influxdb
