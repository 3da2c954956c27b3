package email

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Sender delivers one-time verification codes. Delivery mechanics stay behind
// this seam; the auth flow only needs something that accepts an OTP.
type Sender interface {
	SendOTP(ctx context.Context, to, otp string) error
}

// LogSender writes the OTP to the server log instead of sending mail. Used
// when no SMTP endpoint is configured, mirroring development setups.
type LogSender struct{}

// SendOTP logs the code.
func (LogSender) SendOTP(_ context.Context, to, otp string) error {
	log.WithField("to", to).Infof("email: verification code %s (smtp not configured)", otp)
	return nil
}

// SMTPSender delivers OTP mail through a plain SMTP endpoint.
type SMTPSender struct {
	addr string
	from string
}

// NewSMTPSender constructs an SMTPSender for addr ("host:port").
func NewSMTPSender(addr, from string) *SMTPSender {
	if strings.TrimSpace(from) == "" {
		from = "no-reply@parley.chat"
	}
	return &SMTPSender{addr: strings.TrimSpace(addr), from: from}
}

// SendOTP sends the verification mail.
func (s *SMTPSender) SendOTP(_ context.Context, to, otp string) error {
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your verification code\r\n\r\nYour verification code is %s. It expires in 10 minutes.\r\n",
		s.from, to, otp)
	if errSend := smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(body)); errSend != nil {
		return fmt.Errorf("email: send otp: %w", errSend)
	}
	return nil
}

// NewSender picks the SMTP sender when an address is configured, else the log
// sender.
func NewSender(smtpAddr, from string) Sender {
	if strings.TrimSpace(smtpAddr) == "" {
		return LogSender{}
	}
	return NewSMTPSender(smtpAddr, from)
}
