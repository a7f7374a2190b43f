package libraryserver

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

// connectRetryDelay is the fixed wait between connection attempts.
const connectRetryDelay = 2 * time.Second

// ErrRelayUnavailable reports that the mail relay could not be reached
// within the configured connection attempt budget.  Callers should treat
// it as fatal for the current process.
var ErrRelayUnavailable = errors.New("mail relay unavailable")

// ErrMailerNotConnected reports a send attempted before a successful
// Connect.  No connection is made implicitly on the send path.
var ErrMailerNotConnected = errors.New("mail transport not initialized")

// SendResult describes an accepted outbound message.
type SendResult struct {
	MessageID string
	Recipient string
}

// Mailer owns the single outbound transport to the mail relay.  The
// transport is established once by Connect and reused for every send; it
// is never torn down or re-established within the process.
type Mailer struct {
	dialer     *gomail.Dialer
	from       string
	fromName   string
	domain     string
	maxAttempt int
	logger     *zap.SugaredLogger

	// dial performs the verification round trip against the relay.
	// Overridden in tests.
	dial func() (gomail.SendCloser, error)

	// retryDelay is connectRetryDelay outside of tests.
	retryDelay time.Duration

	mu        sync.Mutex
	transport gomail.SendCloser
	// attempts counts failed connection attempts over the lifetime of
	// the Mailer.  It is intentionally never reset: a later Connect
	// resumes counting where an earlier one stopped.
	attempts int
}

// newMailer builds a Mailer from the relay settings in config.  No
// connection is made until Connect is called.
func newMailer(config *Config, logger *zap.SugaredLogger) *Mailer {
	d := gomail.NewDialer(config.RelayHost, config.RelayPort,
		config.RelayUser, config.RelayPass)
	d.SSL = config.RelaySSL

	m := &Mailer{
		dialer:     d,
		from:       config.MailSender,
		fromName:   config.MailSenderName,
		domain:     config.MyDomain,
		maxAttempt: config.MaxConnAttempt,
		logger:     logger.Named("mailer"),
		retryDelay: connectRetryDelay,
	}
	m.dial = d.Dial
	return m
}

// Connect establishes the relay transport, verifying it with a full dial
// round trip.  Calling Connect with an established transport is a no-op.
// Each failed attempt is logged and retried after a fixed delay until the
// attempt budget is exhausted, at which point ErrRelayUnavailable is
// returned and the caller is expected to abort startup.
func (m *Mailer) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport != nil {
		m.logger.Debugw("already connected to mail relay",
			"host", m.dialer.Host)
		return nil
	}

	for {
		metricMailConnects.Inc()
		sc, err := m.dial()
		if err == nil {
			m.transport = sc
			m.logger.Infow("connected to mail relay",
				"host", m.dialer.Host,
				"port", m.dialer.Port,
				"ssl", m.dialer.SSL)
			return nil
		}

		m.logger.Warnf("mail relay connection attempt failed: %+v", err)
		if m.attempts >= m.maxAttempt {
			return errors.Mark(
				errors.Wrapf(err, "mail relay unavailable after %d attempts",
					m.attempts),
				ErrRelayUnavailable)
		}
		m.attempts++

		select {
		case <-time.After(m.retryDelay):
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		}
	}
}

// SendEmail submits one HTML message over the established transport.  It
// fails with ErrMailerNotConnected when Connect has not succeeded yet and
// propagates transport errors without retrying.
func (m *Mailer) SendEmail(to, subject, htmlBody string) (*SendResult, error) {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()

	if transport == nil {
		return nil, errors.WithStack(ErrMailerNotConnected)
	}

	msgid := uuid.New().String() + "@" + m.domain

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from, m.fromName)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("Message-ID", "<"+msgid+">")
	msg.SetBody("text/html", htmlBody)

	if err := gomail.Send(transport, msg); err != nil {
		metricMailSends.WithLabelValues("error").Inc()
		m.logger.Errorf("failed to send message to %s: %+v", to, err)
		return nil, errors.WithStack(err)
	}

	metricMailSends.WithLabelValues("ok").Inc()
	m.logger.Infow("message sent",
		"to", to,
		"subject", subject,
		"msgid", msgid)
	return &SendResult{MessageID: msgid, Recipient: to}, nil
}

// connected reports whether the transport has been established.
func (m *Mailer) connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport != nil
}

// attemptCount returns the failed connection attempts recorded so far.
func (m *Mailer) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
