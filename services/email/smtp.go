package email

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"toybox-api/models"
)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

type SMTPService struct {
	config SMTPConfig
}

func NewSMTPService(config SMTPConfig) *SMTPService {
	return &SMTPService{
		config: config,
	}
}

func (s *SMTPService) SendEmail(to, subject, body string) error {
	tlsConfig := &tls.Config{
		ServerName: s.config.Host,
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(s.config.Host, s.config.Port), 15*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if err = client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err = client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err = client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to create email body writer: %w", err)
	}

	if _, err = w.Write(buildMessage(s.config.From, to, subject, body)); err != nil {
		return fmt.Errorf("failed to write email body: %w", err)
	}

	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close email body writer: %w", err)
	}

	return client.Quit()
}

func buildMessage(from, to, subject, body string) []byte {
	headers := fmt.Sprintf(
		"From: ToyBox <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n",
		from, to, subject,
	)
	return []byte(headers + body)
}

func (s *SMTPService) SendOrderConfirmation(to, name string, order *models.Order) error {
	body, err := RenderOrderConfirmation(name, order)
	if err != nil {
		return err
	}
	return s.SendEmail(to, fmt.Sprintf("Your ToyBox order %s is confirmed", shortID(order.ID)), body)
}

func (s *SMTPService) SendLowStockAlert(to string, toys []models.Toy) error {
	body, err := RenderLowStockAlert(toys)
	if err != nil {
		return err
	}
	return s.SendEmail(to, fmt.Sprintf("%d toys are running low", len(toys)), body)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
