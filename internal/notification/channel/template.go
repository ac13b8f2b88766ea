package channel

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"notification-dispatcher/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer turns a record into the HTML and plain-text bodies of an email.
type Renderer struct {
	tmpl    *template.Template
	appName string
	baseURL string
}

type emailView struct {
	AppName       string
	RecipientName string
	Title         string
	Message       string
	Priority      string
	PriorityClass string
	ActionURL     string
}

func NewRenderer(appName, baseURL string) (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/notification.html")
	if err != nil {
		return nil, fmt.Errorf("parse email template: %w", err)
	}
	return &Renderer{tmpl: tmpl, appName: appName, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Render returns the subject, HTML body and text body for r.
func (rd *Renderer) Render(r *models.DeliveryRecord, recipientName string) (string, string, string, error) {
	view := emailView{
		AppName:       rd.appName,
		RecipientName: recipientName,
		Title:         r.Title,
		Message:       r.Message,
		Priority:      string(r.Priority),
		PriorityClass: "priority-" + strings.ToLower(string(r.Priority)),
		ActionURL:     rd.absoluteURL(r.ActionURL),
	}

	var buf bytes.Buffer
	if err := rd.tmpl.ExecuteTemplate(&buf, "notification.html", view); err != nil {
		return "", "", "", fmt.Errorf("render email: %w", err)
	}

	var text strings.Builder
	if recipientName != "" {
		fmt.Fprintf(&text, "Hello %s,\n\n", recipientName)
	}
	fmt.Fprintf(&text, "%s\n\n%s\n", r.Title, r.Message)
	if view.ActionURL != "" {
		fmt.Fprintf(&text, "\n%s\n", view.ActionURL)
	}

	subject := r.Title
	if rd.appName != "" {
		subject = fmt.Sprintf("[%s] %s", rd.appName, r.Title)
	}
	return subject, buf.String(), text.String(), nil
}

func (rd *Renderer) absoluteURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return rd.baseURL + path
}
