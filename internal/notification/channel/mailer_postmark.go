package channel

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

type PostmarkSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

type PostmarkMailer struct {
	client    PostmarkSender
	fromEmail string
}

func NewPostmarkMailer(client PostmarkSender, fromEmail string) *PostmarkMailer {
	return &PostmarkMailer{client: client, fromEmail: fromEmail}
}

// NewPostmarkClient builds the Postmark API client.
func NewPostmarkClient(serverToken, accountToken string) *postmark.Client {
	return postmark.NewClient(serverToken, accountToken)
}

func (m *PostmarkMailer) Send(ctx context.Context, mail Mail) error {
	resp, err := m.client.SendEmail(ctx, postmark.Email{
		From:       m.fromEmail,
		To:         mail.To,
		Subject:    mail.Subject,
		Tag:        mail.Tag,
		HTMLBody:   mail.HTML,
		TextBody:   mail.Text,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return err
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
