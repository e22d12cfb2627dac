// Package config loads the host's YAML configuration.
//
// Values come from three layers, later ones winning: built-in defaults,
// the YAML file, then LABHOST_* environment variables (for example
// LABHOST_MQTT_HOST, LABHOST_API_PORT, LABHOST_INFLUXDB_TOKEN). Secrets
// belong in the environment rather than the file.
//
//	cfg, err := config.LoadOrDefault("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	client, err := mqtt.Connect(cfg.MQTT)
package config
