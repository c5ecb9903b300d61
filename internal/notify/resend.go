package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// ResendService sends email through the Resend API.
type ResendService struct {
	client      *resend.Client
	fromAddress string
}

// NewResendService creates a Resend sender. fromAddress must be verified in Resend.
func NewResendService(apiKey, fromAddress string) *ResendService {
	return &ResendService{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

// Send delivers msg.
func (r *ResendService) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if _, err := r.client.Emails.Send(params); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}
