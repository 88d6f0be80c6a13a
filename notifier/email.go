// Package notifier emails a digest of what a favorites refresh found.
package notifier

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"cineshelf/config"

	"go.uber.org/zap"
	gomail "gopkg.in/mail.v2"
)

// MovieUpdate lists what a refresh found new for one favorite.
type MovieUpdate struct {
	MovieID     int64
	Title       string
	NewTrailers []string
	NewReviews  []string
}

// RefreshReport summarizes one favorites refresh.
type RefreshReport struct {
	At        time.Time
	Refreshed int
	Failed    int
	Updates   []MovieUpdate
}

// Sender delivers a composed message. *gomail.Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier handles sending email notifications
type EmailNotifier struct {
	sender       Sender
	from         string
	recipient    string
	htmlTemplate *template.Template
	logger       *zap.Logger
}

var digestTemplate = template.Must(template.New("email").Parse(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>cineshelf - Favorites update</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 800px; margin: 0 auto; }
        h1 { color: #e50914; }
        h2 { color: #0071c5; margin-top: 30px; }
        ul { margin-top: 0; }
        .footer { font-size: 12px; color: #666; margin-top: 50px; text-align: center; }
    </style>
</head>
<body>
    <h1>cineshelf - Favorites update</h1>
    <p>Refreshed {{.Refreshed}} favorite(s) on {{.Date}}.{{if .Failed}} {{.Failed}} could not be refreshed.{{end}}</p>
    {{range .Updates}}
    <h2>{{.Title}}</h2>
    {{if .NewTrailers}}<p>New trailers</p>
    <ul>{{range .NewTrailers}}<li><a href="https://www.youtube.com/watch?v={{.}}">{{.}}</a></li>{{end}}</ul>{{end}}
    {{if .NewReviews}}<p>New reviews by</p>
    <ul>{{range .NewReviews}}<li>{{.}}</li>{{end}}</ul>{{end}}
    {{end}}
    <div class="footer">
        <p>This is an automated email from cineshelf. Please do not reply.</p>
    </div>
</body>
</html>
`))

// NewEmailNotifier returns a notifier sending through sender. A nil sender
// dials the SMTP server in cfg.
func NewEmailNotifier(cfg config.NotifyConfig, sender Sender, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		username := cfg.Username
		if username == "" {
			username = cfg.Sender
		}
		sender = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, username, cfg.Password)
	}
	return &EmailNotifier{
		sender:       sender,
		from:         cfg.Sender,
		recipient:    cfg.Recipient,
		htmlTemplate: digestTemplate,
		logger:       logger.Named("notifier"),
	}
}

// NotifyRefresh emails report. Nothing is sent when the refresh found
// nothing new or no recipient is configured.
func (n *EmailNotifier) NotifyRefresh(ctx context.Context, report RefreshReport) error {
	if len(report.Updates) == 0 {
		n.logger.Debug("no favorites changed, skipping notification")
		return nil
	}
	if n.recipient == "" {
		n.logger.Debug("no recipient email configured, skipping notification")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := n.compose(report)
	if err != nil {
		return err
	}
	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("email notification sent",
		zap.String("recipient", n.recipient),
		zap.Int("movies", len(report.Updates)))
	return nil
}

func (n *EmailNotifier) compose(report RefreshReport) (*gomail.Message, error) {
	at := report.At
	if at.IsZero() {
		at = time.Now()
	}
	data := struct {
		RefreshReport
		Date string
	}{report, at.Format("January 2, 2006 at 3:04 PM")}

	var body bytes.Buffer
	if err := n.htmlTemplate.Execute(&body, data); err != nil {
		return nil, fmt.Errorf("failed to render email template: %w", err)
	}

	trailers, reviews := 0, 0
	for _, u := range report.Updates {
		trailers += len(u.NewTrailers)
		reviews += len(u.NewReviews)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.recipient)
	m.SetHeader("Subject", fmt.Sprintf("cineshelf: %d favorites updated (%d trailers, %d reviews)",
		len(report.Updates), trailers, reviews))

	plainText := fmt.Sprintf(
		"cineshelf favorites update\n\n"+
			"Refreshed %d favorite(s) on %s.\n"+
			"%d movie(s) have %d new trailer(s) and %d new review(s).\n\n"+
			"This is an automated email from cineshelf. Please do not reply.",
		report.Refreshed, data.Date, len(report.Updates), trailers, reviews)

	m.SetBody("text/plain", plainText)
	m.AddAlternative("text/html", body.String())
	return m, nil
}
