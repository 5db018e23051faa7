package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	input *sqs.SendMessageInput
	err   error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("e-1")}, nil
}

func sampleMessage() Message {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	return Message{
		OfferID:    uuid.New(),
		EntryID:    uuid.New(),
		PatientID:  uuid.New(),
		ProviderID: uuid.New(),
		Start:      start,
		End:        start.Add(30 * time.Minute),
		ExpiresAt:  start.Add(-time.Hour),
	}
}

func TestSQSNotifierSendsJSON(t *testing.T) {
	fake := &fakeSQS{}
	n := &SQSNotifier{client: fake, queueURL: "http://localhost:4566/000000000000/offers"}
	msg := sampleMessage()

	require.NoError(t, n.Notify(context.Background(), msg))
	require.NotNil(t, fake.input)
	assert.Equal(t, "http://localhost:4566/000000000000/offers", aws.ToString(fake.input.QueueUrl))

	var decoded Message
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(fake.input.MessageBody)), &decoded))
	assert.Equal(t, msg.OfferID, decoded.OfferID)
	assert.True(t, msg.Start.Equal(decoded.Start))
	assert.Equal(t, msg.OfferID.String(), aws.ToString(fake.input.MessageAttributes["offer_id"].StringValue))
}

func TestSQSNotifierWrapsErrors(t *testing.T) {
	boom := errors.New("throttled")
	n := &SQSNotifier{client: &fakeSQS{err: boom}, queueURL: "q"}
	assert.ErrorIs(t, n.Notify(context.Background(), sampleMessage()), boom)
}

func TestSESNotifier(t *testing.T) {
	fake := &fakeSES{}
	n := &SESNotifier{client: fake, fromEmail: "desk@clinic.test", toEmail: "staff@clinic.test", logger: zerolog.Nop()}
	msg := sampleMessage()

	require.NoError(t, n.Notify(context.Background(), msg))
	assert.Equal(t, "desk@clinic.test", aws.ToString(fake.input.FromEmailAddress))
	assert.Equal(t, []string{"staff@clinic.test"}, fake.input.Destination.ToAddresses)
	assert.Contains(t, aws.ToString(fake.input.Content.Simple.Subject.Data), msg.OfferID.String())
	assert.Contains(t, aws.ToString(fake.input.Content.Simple.Body.Text.Data), msg.PatientID.String())

	unconfigured := &SESNotifier{logger: zerolog.Nop()}
	assert.Error(t, unconfigured.Notify(context.Background(), msg))
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("down")
	ok := &fakeSQS{}
	f := Fanout{
		&SQSNotifier{client: ok, queueURL: "q"},
		&SQSNotifier{client: &fakeSQS{err: boom}, queueURL: "q"},
		NewLogNotifier(zerolog.Nop()),
	}

	err := f.Notify(context.Background(), sampleMessage())
	assert.ErrorIs(t, err, boom)
	assert.NotNil(t, ok.input)
}

func TestChannelsFlattensFanout(t *testing.T) {
	log := NewLogNotifier(zerolog.Nop())
	sqsN := &SQSNotifier{client: &fakeSQS{}, queueURL: "q"}

	assert.Equal(t, []Notifier{log}, Channels(log))
	assert.Equal(t, []Notifier{log, sqsN, log}, Channels(Fanout{log, Fanout{sqsN, nil}, log}))
}
