package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rs/zerolog"
)

type sesAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier emails the front desk so staff can call the patient.
type SESNotifier struct {
	client    sesAPI
	fromEmail string
	toEmail   string
	logger    zerolog.Logger
}

func NewSESNotifier(client *sesv2.Client, fromEmail, toEmail string, logger zerolog.Logger) *SESNotifier {
	n := &SESNotifier{
		fromEmail: fromEmail,
		toEmail:   toEmail,
		logger:    logger.With().Str("component", "notify-ses").Logger(),
	}
	if client != nil {
		n.client = client
	}
	return n
}

func (n *SESNotifier) Notify(ctx context.Context, msg Message) error {
	if n.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	subject := fmt.Sprintf("Waitlist offer %s", msg.OfferID)
	body := fmt.Sprintf("patient=%s provider=%s start=%s end=%s hold_until=%s",
		msg.PatientID, msg.ProviderID,
		msg.Start.Format(time.RFC3339), msg.End.Format(time.RFC3339), msg.ExpiresAt.Format(time.RFC3339))

	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.fromEmail),
		Destination:      &types.Destination{ToAddresses: []string{n.toEmail}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("notify: SES send failed: %w", err)
	}
	n.logger.Debug().Str("offer_id", msg.OfferID.String()).Str("message_id", aws.ToString(out.MessageId)).Msg("offer emailed")
	return nil
}

var _ Notifier = (*SESNotifier)(nil)
