package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/config"
	"github.com/nerrad567/lab-orchestrator-core/internal/infrastructure/mqtt"
)

// publisherClientID identifies the publish tool on the broker.
const publisherClientID = "tools-publisher"

func newPublishCmd(configPath *string) *cobra.Command {
	var (
		retain bool
		qos    int
	)

	cmd := &cobra.Command{
		Use:   "publish <topic> <file.json>",
		Short: "Publish a JSON file to an MQTT topic",
		Long: `Publish a JSON document to the configured broker.

The file is validated and re-encoded compactly before publishing. The broker
address comes from --config; the tool connects with its own client id and
does not disturb the host's status topic.`,
		Example: `  labhost publish /lab/device/pi-01/meta meta.json --retain
  labhost publish /lab/orchestrator/led/cmd cmd.json --qos 1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readJSONFile(args[1])
			if err != nil {
				return err
			}
			if qos < 0 || qos > 2 {
				return fmt.Errorf("qos must be 0, 1 or 2, got %d", qos)
			}

			cfg, err := config.LoadOrDefault(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			mqttCfg := cfg.MQTT
			mqttCfg.Broker.ClientID = publisherClientID

			client, err := mqtt.ConnectEphemeral(mqttCfg)
			if err != nil {
				return fmt.Errorf("connecting to MQTT: %w", err)
			}
			defer client.Close()

			if err := client.Publish(args[0], payload, byte(qos), retain); err != nil {
				return fmt.Errorf("publishing to %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s (qos=%d retain=%t)\n", len(payload), args[0], qos, retain)
			return nil
		},
	}

	cmd.Flags().BoolVar(&retain, "retain", false, "set the MQTT retained flag")
	cmd.Flags().IntVar(&qos, "qos", 1, "MQTT QoS level (0-2)")
	return cmd
}

// readJSONFile reads path and returns its compact JSON encoding.
func readJSONFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", path, err)
	}
	return out, nil
}
