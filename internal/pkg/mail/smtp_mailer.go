package mail

import (
	"fmt"
	"log"
	"net/smtp"
	"strings"

	"github.com/MarioFuchs/StreamVault/internal/pkg/env"
)

// SMTPMailer sends emails via SMTP
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	} else {
		log.Printf("Email sent to %s via %s", to, addr)
	}
	return err
}

// SendPaymentConfirmation mails the subscription activation receipt.
func SendPaymentConfirmation(to string, name string, amount float64, currency string) error {
	subject := "Your StreamVault subscription is active"
	body := fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>Thanks for subscribing! Your payment of %.2f %s was received and your "+
			"pro access is now active.</p>"+
			"<p>Happy streaming,<br>The StreamVault Team</p>",
		name, amount, strings.ToUpper(currency),
	)
	return SendMail(to, subject, body)
}

// SendSubscriptionCancellation mails the cancellation notice.
func SendSubscriptionCancellation(to string, name string, accessEnd string) error {
	subject := "Your StreamVault subscription has been cancelled"
	body := fmt.Sprintf(
		"<p>Hi %s,</p>"+
			"<p>Your subscription has been cancelled. You keep pro access until %s. "+
			"No further charges will be made.</p>"+
			"<p>We hope to see you again,<br>The StreamVault Team</p>",
		name, accessEnd,
	)
	return SendMail(to, subject, body)
}
