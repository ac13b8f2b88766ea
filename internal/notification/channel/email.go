package channel

import (
	"context"
	"fmt"

	"notification-dispatcher/internal/models"
	"notification-dispatcher/internal/notification/recipient"
)

// ContactLookup resolves the address of a user.
type ContactLookup interface {
	Contact(ctx context.Context, userID string) (recipient.Contact, error)
}

// Mail is a rendered email ready for a Mailer.
type Mail struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Tag     string
}

// Mailer hands a rendered email to a provider.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

type EmailTransport struct {
	contacts ContactLookup
	mailer   Mailer
	renderer *Renderer
}

func NewEmailTransport(contacts ContactLookup, mailer Mailer, renderer *Renderer) *EmailTransport {
	return &EmailTransport{contacts: contacts, mailer: mailer, renderer: renderer}
}

func (t *EmailTransport) Send(ctx context.Context, r *models.DeliveryRecord) error {
	contact, err := t.contacts.Contact(ctx, r.UserID)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}
	if contact.Email == "" {
		return fmt.Errorf("user %s has no email address", r.UserID)
	}

	subject, html, text, err := t.renderer.Render(r, contact.Name)
	if err != nil {
		return err
	}
	return t.mailer.Send(ctx, Mail{
		To:      contact.Email,
		Subject: subject,
		HTML:    html,
		Text:    text,
		Tag:     string(r.EventType),
	})
}
