package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const (
	SubjectVerifyEmail   = "Verify Your Email - Finance Tracker"
	SubjectResetPassword = "Reset Your Password - Finance Tracker"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type linkData struct {
	Name      string
	URL       string
	ExpiresIn string
}

// VerificationEmail renders the verification message. The name falls back to the email local part.
func VerificationEmail(to, actionURL, fullName string, ttl time.Duration) (Message, error) {
	return render("verify_email.html", to, SubjectVerifyEmail, actionURL, fullName, ttl)
}

func PasswordResetEmail(to, actionURL, fullName string, ttl time.Duration) (Message, error) {
	return render("reset_password.html", to, SubjectResetPassword, actionURL, fullName, ttl)
}

func render(name, to, subject, actionURL, fullName string, ttl time.Duration) (Message, error) {
	display := strings.TrimSpace(fullName)
	if display == "" {
		display = to
		if i := strings.Index(to, "@"); i > 0 {
			display = to[:i]
		}
	}
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, name, linkData{
		Name:      display,
		URL:       actionURL,
		ExpiresIn: humanTTL(ttl),
	}); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{To: to, Subject: subject, HTML: body.String()}, nil
}

func humanTTL(ttl time.Duration) string {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if ttl%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(ttl/time.Hour))
	}
	return fmt.Sprintf("%d minutes", int(ttl/time.Minute))
}
