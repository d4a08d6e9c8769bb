package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/smartcommerce/busgate-go/messaging"
	"github.com/spf13/cobra"
)

// rawEvent publishes a JSON document under an explicit event type
type rawEvent struct {
	eventType string
	body      json.RawMessage
}

func (e rawEvent) EventType() string { return e.eventType }

func (e rawEvent) MarshalJSON() ([]byte, error) { return e.body, nil }

func newRawEvent(eventType string, body []byte) (rawEvent, error) {
	if eventType == "" {
		return rawEvent{}, fmt.Errorf("event type is required")
	}
	if !json.Valid(body) {
		return rawEvent{}, fmt.Errorf("payload is not valid JSON")
	}
	return rawEvent{eventType: eventType, body: body}, nil
}

func newPublishCommand(flags *globalFlags) *cobra.Command {
	var (
		eventType     string
		correlationID string
		count         int
	)

	cmd := &cobra.Command{
		Use:   "publish <destination> [json]",
		Short: "Publish a JSON payload to a destination",
		Long:  "Publish a JSON payload to a destination. The payload is read from stdin when not given as an argument.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body []byte
			if len(args) == 2 {
				body = []byte(args[1])
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read payload: %w", err)
				}
				body = data
			}

			event, err := newRawEvent(eventType, body)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			client, cleanup, err := flags.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if correlationID != "" {
				ctx = messaging.WithCorrelationID(ctx, correlationID)
			}
			for i := 0; i < count; i++ {
				if err := client.Publish(ctx, args[0], event); err != nil {
					return fmt.Errorf("failed to publish: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Published %d %s message(s) to %s\n", count, eventType, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&eventType, "event-type", "e", "", "Event type recorded on the message (required)")
	cmd.Flags().StringVar(&correlationID, "correlation-id", "", "Correlation id for the message")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of copies to publish")
	_ = cmd.MarkFlagRequired("event-type")
	return cmd
}
