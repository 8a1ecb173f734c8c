package email

import (
	"context"
	"fmt"
	"time"

	gomail "gopkg.in/gomail.v2"

	"github.com/arogyalock/consent-api/internal/config"
)

type Service interface {
	SendOneTimeCode(ctx context.Context, to, code string, ttl time.Duration) error
	SendDisclosureNotice(ctx context.Context, to, subjectName string, at time.Time) error
	SendConsentNotice(ctx context.Context, to, subject, content string) error
	SendCustom(ctx context.Context, to, subject, content string) error
}

type smtpService struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPService(cfg config.SMTPConfig) Service {
	return &smtpService{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *smtpService) SendOneTimeCode(ctx context.Context, to, code string, ttl time.Duration) error {
	content := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(ttl.Minutes()))
	return s.SendCustom(ctx, to, "Your verification code", content)
}

func (s *smtpService) SendDisclosureNotice(ctx context.Context, to, subjectName string, at time.Time) error {
	content := fmt.Sprintf(
		"An emergency responder accessed the minimal emergency profile of %s at %s. "+
			"If this was unexpected, contact support immediately.",
		subjectName, at.Format(time.RFC1123))
	return s.SendCustom(ctx, to, "Emergency access to your record", content)
}

func (s *smtpService) SendConsentNotice(ctx context.Context, to, subject, content string) error {
	return s.SendCustom(ctx, to, subject, content)
}

func (s *smtpService) SendCustom(_ context.Context, to, subject, content string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", content)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
