package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSender_NilWithoutAPIKey(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{FromEmail: "scheduling@practice.test"}, nil)
	assert.Nil(t, sender)
}

func TestNewSendGridSender_DefaultFromName(t *testing.T) {
	sender := NewSendGridSender(SendGridConfig{APIKey: "key", FromEmail: "scheduling@practice.test"}, nil)
	require.NotNil(t, sender)
	assert.Equal(t, "Practice Scheduling", sender.fromName)
}

func TestSendGridSender_Send_NilClient(t *testing.T) {
	sender := &SendGridSender{}
	err := sender.Send(context.Background(), EmailMessage{To: "rep@pharma.test", Subject: "x"})
	assert.Error(t, err)
}

type mockSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (m *mockSES) SendEmail(ctx context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.inputs = append(m.inputs, in)
	if m.err != nil {
		return nil, m.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSESSender_Send(t *testing.T) {
	client := &mockSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "scheduling@practice.test"}, nil)
	require.NotNil(t, sender)

	err := sender.Send(context.Background(), EmailMessage{To: "rep@pharma.test", Subject: "Hello", Body: "Body"})
	require.NoError(t, err)
	require.Len(t, client.inputs, 1)

	in := client.inputs[0]
	assert.Equal(t, "Practice Scheduling <scheduling@practice.test>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"rep@pharma.test"}, in.Destination.ToAddresses)
	assert.Equal(t, "Hello", aws.ToString(in.Content.Simple.Subject.Data))
	assert.Equal(t, "Body", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Nil(t, in.Content.Simple.Body.Html)
	assert.Nil(t, in.ConfigurationSetName)
}

func TestSESSender_UsesConfigurationSet(t *testing.T) {
	client := &mockSES{}
	sender := NewSESSender(client, SESConfig{FromEmail: "a@b.test", ConfigurationSet: "scheduling-events"}, nil)

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "rep@pharma.test", Subject: "Hi", HTML: "<p>Hi</p>"}))
	require.Len(t, client.inputs, 1)
	assert.Equal(t, "scheduling-events", aws.ToString(client.inputs[0].ConfigurationSetName))
	assert.Equal(t, "<p>Hi</p>", aws.ToString(client.inputs[0].Content.Simple.Body.Html.Data))
}

func TestSESSender_SendError(t *testing.T) {
	sender := NewSESSender(&mockSES{err: errors.New("throttled")}, SESConfig{FromEmail: "a@b.test"}, nil)
	err := sender.Send(context.Background(), EmailMessage{To: "rep@pharma.test"})
	assert.ErrorContains(t, err, "throttled")
}

func TestNewSESSender_NilClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}
