package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	got *ses.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.got = params
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSESNotifier_SendsCompletion(t *testing.T) {
	client := &fakeSES{}
	n := NewSESNotifier(client, "books@example.com")

	err := n.NotifyCompleted(context.Background(), Completion{
		JobID:    "job-1",
		To:       "parent@example.com",
		HeroName: "Mia",
		Title:    "Mia and the Moon",
		ComicURL: "https://cdn/job-1.pdf",
	})
	require.NoError(t, err)
	require.NotNil(t, client.got)
	assert.Equal(t, "books@example.com", aws.ToString(client.got.Source))
	assert.Equal(t, []string{"parent@example.com"}, client.got.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(client.got.Message.Subject.Data), "Mia and the Moon")
	assert.Contains(t, aws.ToString(client.got.Message.Body.Text.Data), "https://cdn/job-1.pdf")
}

func TestSESNotifier_Errors(t *testing.T) {
	n := NewSESNotifier(&fakeSES{err: errors.New("throttled")}, "books@example.com")

	require.Error(t, n.NotifyCompleted(context.Background(), Completion{To: "a@b.c"}))
	require.Error(t, n.NotifyCompleted(context.Background(), Completion{}))
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(zerolog.Nop())
	assert.NoError(t, n.NotifyCompleted(context.Background(), Completion{JobID: "job-1"}))
}
