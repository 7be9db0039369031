package smtpproxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/mikey/email-triage/internal/core"
	"github.com/mikey/email-triage/internal/mailparse"
	"go.uber.org/zap"
)

const (
	headerCategory   = "X-Triage-Category"
	headerAction     = "X-Triage-Action"
	headerTier       = "X-Triage-Tier"
	headerConfidence = "X-Triage-Confidence"
)

// Triager is the classification surface the proxy needs. Satisfied by the
// escalation coordinator; the proxy's cascade is wired without the human
// tier so a busy mail queue never blocks on a console.
type Triager interface {
	AnalyzeEmail(ctx context.Context, email *core.Email) (*core.Decision, error)
}

// Proxy is a Postfix content-filter: mail arrives over SMTP, is run through
// the automated tiers, stamped with triage headers and reinjected upstream.
// Mail the cascade cannot classify passes through marked as such; the proxy
// never drops a message.
type Proxy struct {
	triager      Triager
	logger       *zap.Logger
	listenAddr   string
	upstreamAddr string
	upstreamPort int
	timeout      time.Duration
	rejectSpam   bool
	server       *smtp.Server
}

// NewProxy creates a triage proxy. timeout bounds the whole cascade per
// message; it should cover the deep tier's worst case.
func NewProxy(
	triager Triager,
	listenAddr string,
	upstreamAddr string,
	upstreamPort int,
	timeout time.Duration,
	rejectSpam bool,
	logger *zap.Logger,
) *Proxy {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Proxy{
		triager:      triager,
		logger:       logger,
		listenAddr:   listenAddr,
		upstreamAddr: upstreamAddr,
		upstreamPort: upstreamPort,
		timeout:      timeout,
		rejectSpam:   rejectSpam,
	}
}

// Start starts the SMTP server in the background.
func (p *Proxy) Start() error {
	p.server = smtp.NewServer(&backend{proxy: p})

	p.server.Addr = p.listenAddr
	p.server.Domain = "localhost"
	p.server.ReadTimeout = 30 * time.Second
	p.server.WriteTimeout = 30 * time.Second
	p.server.MaxMessageBytes = 30 * 1024 * 1024 // 30MB
	p.server.MaxRecipients = 50
	p.server.AllowInsecureAuth = true

	p.logger.Info("Triage proxy starting", zap.String("address", p.listenAddr))

	go func() {
		if err := p.server.ListenAndServe(); err != nil {
			if err != smtp.ErrServerClosed {
				p.logger.Error("SMTP server error", zap.Error(err))
			}
		}
	}()

	return nil
}

// Stop stops the SMTP server.
func (p *Proxy) Stop() error {
	if p.server != nil {
		return p.server.Close()
	}
	return nil
}

// sendUpstream reinjects the processed message into the upstream MTA.
func (p *Proxy) sendUpstream(sender string, recipients []string, emailData []byte) error {
	upstreamAddr := fmt.Sprintf("%s:%d", p.upstreamAddr, p.upstreamPort)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}

	conn, err := net.DialTimeout("tcp", upstreamAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to upstream MTA: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(30 * time.Second)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set connection deadline: %w", err)
	}

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(hostname); err != nil {
		return fmt.Errorf("EHLO failed: %w", err)
	}
	if err := c.Mail(sender, nil); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	recipientOK := false
	for _, recipient := range recipients {
		if err := c.Rcpt(recipient, nil); err != nil {
			p.logger.Warn("RCPT TO failed for recipient",
				zap.String("recipient", recipient),
				zap.Error(err))
		} else {
			recipientOK = true
		}
	}
	if !recipientOK {
		return fmt.Errorf("all recipients were rejected")
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := wc.Write(emailData); err != nil {
		wc.Close()
		return fmt.Errorf("failed to send email data: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := c.Quit(); err != nil {
		p.logger.Warn("QUIT command failed", zap.Error(err))
	}

	return nil
}

type backend struct {
	proxy *Proxy
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{
		proxy:      b.proxy,
		recipients: make([]string, 0),
	}, nil
}

type session struct {
	proxy      *Proxy
	sender     string
	recipients []string
}

func (s *session) Reset() {
	s.sender = ""
	s.recipients = make([]string, 0)
}

func (s *session) AuthPlain(_ []byte) error {
	return smtp.ErrAuthUnsupported
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	s.sender = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data runs the message through the cascade and reinjects it with triage
// headers prepended. An analysis failure marks the message unclassified
// rather than bouncing it.
func (s *session) Data(r io.Reader) error {
	rawData, err := io.ReadAll(r)
	if err != nil {
		s.proxy.logger.Error("Failed to read message data", zap.Error(err))
		return err
	}

	email, err := mailparse.ParseMessage(bytes.NewReader(rawData))
	if err != nil {
		s.proxy.logger.Error("Failed to parse email message", zap.Error(err))
		return err
	}
	if email.SenderEmail == "" {
		email.SenderEmail = s.sender
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.proxy.timeout)
	defer cancel()

	decision, err := s.proxy.triager.AnalyzeEmail(ctx, email)
	if err != nil {
		s.proxy.logger.Error("Failed to analyze email",
			zap.Error(err),
			zap.String("sender", email.SenderEmail))
		decision = nil
	}

	if decision != nil && s.proxy.rejectSpam &&
		decision.Category == core.CategorySpam && decision.Action == core.ActionDelete {
		s.proxy.logger.Info("Rejecting spam email",
			zap.String("from", email.SenderEmail),
			zap.Float64("confidence", decision.Confidence),
			zap.String("reason", decision.Reasoning))
		return fmt.Errorf("550 Rejected as spam (confidence: %.2f)", decision.Confidence)
	}

	var modified bytes.Buffer
	if decision != nil {
		fmt.Fprintf(&modified, "%s: %s\r\n", headerCategory, decision.Category)
		fmt.Fprintf(&modified, "%s: %s\r\n", headerAction, decision.Action)
		fmt.Fprintf(&modified, "%s: %s\r\n", headerTier, decision.Tier)
		fmt.Fprintf(&modified, "%s: %.4f\r\n", headerConfidence, decision.Confidence)
	} else {
		fmt.Fprintf(&modified, "%s: none\r\n", headerTier)
	}
	modified.Write(rawData)

	if err := s.proxy.sendUpstream(s.sender, s.recipients, modified.Bytes()); err != nil {
		s.proxy.logger.Error("Failed to reinject email upstream",
			zap.Error(err),
			zap.String("sender", email.SenderEmail))
		return err
	}

	if decision != nil {
		s.proxy.logger.Info("Processed email",
			zap.String("from", email.SenderEmail),
			zap.String("category", string(decision.Category)),
			zap.String("action", string(decision.Action)),
			zap.Stringer("tier", decision.Tier))
	} else {
		s.proxy.logger.Info("Email passed through unclassified",
			zap.String("from", email.SenderEmail))
	}

	return nil
}

func (s *session) Logout() error {
	return nil
}
