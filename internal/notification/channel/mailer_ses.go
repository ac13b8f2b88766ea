package channel

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESMailer struct {
	client    SESService
	fromEmail string
}

func NewSESMailer(client SESService, fromEmail string) *SESMailer {
	return &SESMailer{client: client, fromEmail: fromEmail}
}

func (m *SESMailer) Send(ctx context.Context, mail Mail) error {
	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{mail.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(mail.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(mail.Text), Charset: aws.String("UTF-8")},
				Html: &types.Content{Data: aws.String(mail.HTML), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(m.fromEmail),
		Tags: []types.MessageTag{
			{Name: aws.String("event_type"), Value: aws.String(mail.Tag)},
		},
	})
	return err
}
