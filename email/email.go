package email

import (
	"fmt"
	"net/smtp"
	"os"
)

type EmailService struct {
	host     string
	port     string
	user     string
	password string
	from     string
}

func NewEmailService() *EmailService {
	return &EmailService{
		host:     os.Getenv("SMTP_HOST"),
		port:     os.Getenv("SMTP_PORT"),
		user:     os.Getenv("SMTP_USER"),
		password: os.Getenv("SMTP_PASSWORD"),
		from:     os.Getenv("SMTP_FROM"),
	}
}

// SendPasswordResetEmail mails the reset link and the short-lived OTP. Both
// ways in are valid; whichever the user redeems first wins.
func (e *EmailService) SendPasswordResetEmail(to, resetURL, otp string) error {
	subject := "Password Reset Request - Inkwell"
	body := fmt.Sprintf(`Hello,

You requested a password reset for your Inkwell account.

Reset link: %s
One-time code: %s

The link is valid for 10 minutes and the code for 5 minutes.
If you did not request this, ignore this email.

---
Inkwell
`, resetURL, otp)

	return e.send(to, subject, body)
}

func (e *EmailService) send(to, subject, body string) error {
	message := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.from, to, subject, body)

	auth := smtp.PlainAuth("", e.user, e.password, e.host)
	addr := fmt.Sprintf("%s:%s", e.host, e.port)

	if err := smtp.SendMail(addr, auth, e.from, []string{to}, []byte(message)); err != nil {
		return fmt.Errorf("error sending email: %v", err)
	}

	return nil
}
