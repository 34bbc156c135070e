package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"

	"devforum/internal/config"
)

// Sender delivers account lifecycle notices to members.
type Sender interface {
	SendConfirmation(ctx context.Context, toEmail, token string) error
	SendApproved(ctx context.Context, toEmail, name string) error
	SendRejected(ctx context.Context, toEmail string) error
}

type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Build renders msg as a single-part RFC 5322 message.
func Build(msg Message) ([]byte, error) {
	var h mail.Header
	h.SetDate(time.Now().UTC())
	h.SetAddressList("From", []*mail.Address{{Name: "devforum", Address: msg.From}})
	h.SetAddressList("To", []*mail.Address{{Address: msg.To}})
	h.SetSubject(msg.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func confirmationMessage(from, baseURL, to, token string) Message {
	link := fmt.Sprintf("%s/api/v1/auth/verify?token=%s", strings.TrimRight(baseURL, "/"), token)
	return Message{
		From:    from,
		To:      to,
		Subject: "Confirm your devforum account",
		Body: "Welcome to devforum.\r\n\r\nConfirm your email address with this link:\r\n" + link +
			"\r\n\r\nAn administrator still has to approve your account before you can post.\r\n",
	}
}

func approvedMessage(from, baseURL, to, name string) Message {
	greeting := "Hi"
	if strings.TrimSpace(name) != "" {
		greeting = "Hi " + strings.TrimSpace(name)
	}
	return Message{
		From:    from,
		To:      to,
		Subject: "Your devforum account was approved",
		Body:    greeting + ",\r\n\r\nYour account has been approved. Sign in at " + strings.TrimRight(baseURL, "/") + "/\r\n",
	}
}

func rejectedMessage(from, to string) Message {
	return Message{
		From:    from,
		To:      to,
		Subject: "Your devforum registration",
		Body:    "Your registration was not approved and the account has been removed.\r\n",
	}
}

type LogSender struct {
	from    string
	baseURL string
	log     *slog.Logger
}

func (s LogSender) emit(msg Message) error {
	raw, err := Build(msg)
	if err != nil {
		return err
	}
	s.log.Info("notification", "to", msg.To, "subject", msg.Subject, "bytes", len(raw), "body", msg.Body)
	return nil
}

func (s LogSender) SendConfirmation(ctx context.Context, toEmail, token string) error {
	return s.emit(confirmationMessage(s.from, s.baseURL, toEmail, token))
}

func (s LogSender) SendApproved(ctx context.Context, toEmail, name string) error {
	return s.emit(approvedMessage(s.from, s.baseURL, toEmail, name))
}

func (s LogSender) SendRejected(ctx context.Context, toEmail string) error {
	return s.emit(rejectedMessage(s.from, toEmail))
}

type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	baseURL  string
}

func NewSender(cfg config.Config, logger *slog.Logger) Sender {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.NotifySender {
	case "smtp":
		return SMTPSender{
			host:     cfg.SMTPHost,
			port:     cfg.SMTPPort,
			username: cfg.SMTPUsername,
			password: cfg.SMTPPassword,
			from:     cfg.NotifyFrom,
			baseURL:  cfg.PublicBaseURL,
		}
	default:
		return LogSender{from: cfg.NotifyFrom, baseURL: cfg.PublicBaseURL, log: logger}
	}
}

func (s SMTPSender) SendConfirmation(ctx context.Context, toEmail, token string) error {
	return s.send(ctx, confirmationMessage(s.from, s.baseURL, toEmail, token))
}

func (s SMTPSender) SendApproved(ctx context.Context, toEmail, name string) error {
	return s.send(ctx, approvedMessage(s.from, s.baseURL, toEmail, name))
}

func (s SMTPSender) SendRejected(ctx context.Context, toEmail string) error {
	return s.send(ctx, rejectedMessage(s.from, toEmail))
}

func (s SMTPSender) send(ctx context.Context, msg Message) error {
	raw, err := Build(msg)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.host}); err != nil {
			return err
		}
	}
	if s.username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(smtp.PlainAuth("", s.username, s.password, s.host)); err != nil {
				return err
			}
		}
	}
	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(msg.To); err != nil {
		return err
	}
	wc, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(raw); err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return client.Quit()
}
