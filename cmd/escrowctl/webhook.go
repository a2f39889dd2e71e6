package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ayo6706/deal-escrow/internal/api/handler"
	"github.com/spf13/cobra"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Build gateway callbacks for testing",
	}
	cmd.AddCommand(webhookSignCmd())
	return cmd
}

// webhookSignCmd prints a callback body with the signature the service expects.
func webhookSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign [payment-id]",
		Short: "Sign a payment.captured or payment.failed callback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, _ := cmd.Flags().GetString("key")
			if key == "" {
				return fmt.Errorf("--key is required")
			}
			event, _ := cmd.Flags().GetString("event")
			if event != handler.EventPaymentCaptured && event != handler.EventPaymentFailed {
				return fmt.Errorf("event must be %s or %s", handler.EventPaymentCaptured, handler.EventPaymentFailed)
			}
			ref, _ := cmd.Flags().GetString("ref")
			reason, _ := cmd.Flags().GetString("reason")

			body, err := json.Marshal(handler.GatewayEvent{
				Event:      event,
				PaymentID:  args[0],
				GatewayRef: ref,
				Reason:     reason,
			})
			if err != nil {
				return err
			}
			return printSigned(cmd.OutOrStdout(), key, body)
		},
	}

	cmd.Flags().StringP("key", "k", "", "Webhook HMAC key")
	cmd.Flags().StringP("event", "e", handler.EventPaymentCaptured, "Callback event")
	cmd.Flags().String("ref", "", "Gateway transaction reference")
	cmd.Flags().String("reason", "", "Failure reason")

	return cmd
}

func printSigned(w io.Writer, key string, body []byte) error {
	_, err := fmt.Fprintf(w, "%s: %s\n%s\n", handler.WebhookSignatureHeader, handler.SignPayload([]byte(key), body), body)
	return err
}
