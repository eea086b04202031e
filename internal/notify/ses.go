package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the part of *ses.Client the notifier uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends the completion email through AWS SES.
type SESNotifier struct {
	client      SESAPI
	fromAddress string
}

func NewSESNotifier(client SESAPI, fromAddress string) *SESNotifier {
	return &SESNotifier{client: client, fromAddress: fromAddress}
}

func (n *SESNotifier) NotifyCompleted(ctx context.Context, c Completion) error {
	if c.To == "" {
		return errors.New("notify: no recipient")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{c.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(subject(c)),
				Charset: aws.String("UTF-8"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data:    aws.String(textBody(c)),
					Charset: aws.String("UTF-8"),
				},
			},
		},
	}

	if _, err := n.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("notify: ses send to %s: %w", c.To, err)
	}
	return nil
}
