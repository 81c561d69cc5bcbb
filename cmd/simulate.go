package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenfield-iot/agrialert/internal/logger"
	"github.com/greenfield-iot/agrialert/internal/mqtt"
	"github.com/greenfield-iot/agrialert/internal/sensor"
)

type simulateOptions struct {
	userID   string
	deviceID string
	readings []string
	count    int
	interval time.Duration
}

func simulateCommand(opts *rootOptions) *cobra.Command {
	sim := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish a device snapshot to the MQTT broker",
		Example: `  agrialert simulate -u farmer-1 -d field-3 -r soilMoisturePct=22 -r co2=1400
  agrialert simulate -u farmer-1 -d field-3 -r airTemperature=41 --count 5 --interval 10s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, log, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			mqttSettings := settings.MQTT
			mqttSettings.ClientID += "-sim"
			client := mqtt.NewClient(&mqttSettings, nil, log, nil)
			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			defer client.Disconnect()

			for i := range max(sim.count, 1) {
				if i > 0 {
					select {
					case <-time.After(sim.interval):
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					}
				}

				payload, err := buildPayload(sim.readings, time.Now())
				if err != nil {
					return err
				}
				if err := client.PublishSnapshot(cmd.Context(), sim.userID, sim.deviceID, payload); err != nil {
					return err
				}
				log.Info("snapshot published",
					logger.String("topic", mqtt.SnapshotTopic(settings.MQTT.TopicPrefix, sim.userID, sim.deviceID)),
					logger.Int("bytes", len(payload)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sim.userID, "user", "u", "", "owning user id (required)")
	cmd.Flags().StringVarP(&sim.deviceID, "device", "d", "", "device id (required)")
	cmd.Flags().StringArrayVarP(&sim.readings, "reading", "r", nil, "parameter=value, repeatable")
	cmd.Flags().IntVar(&sim.count, "count", 1, "number of snapshots to publish")
	cmd.Flags().DurationVar(&sim.interval, "interval", 5*time.Second, "delay between snapshots")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("device")

	return cmd
}

// buildPayload turns parameter=value pairs into a device payload. Gas
// readings are nested under their catalog group the way devices send them.
func buildPayload(readings []string, now time.Time) ([]byte, error) {
	if len(readings) == 0 {
		return nil, fmt.Errorf("at least one --reading is required")
	}

	payload := map[string]any{"timestamp": now.UTC().Format(time.RFC3339)}
	for _, r := range readings {
		name, raw, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("reading %q: expected parameter=value", r)
		}
		p, ok := sensor.ParseParameter(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("reading %q: unknown parameter %q", r, name)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", r, err)
		}

		info, _ := p.Info()
		if info.Group == "" {
			payload[p.String()] = v
			continue
		}
		group, _ := payload[info.Group].(map[string]any)
		if group == nil {
			group = map[string]any{}
			payload[info.Group] = group
		}
		group[p.String()] = v
	}
	return json.Marshal(payload)
}
