package mailer

import (
	"crypto/tls"
	"gotmail/config"
	"gotmail/metrics"
	"gotmail/utils"
	"time"

	"gopkg.in/gomail.v2"
)

// Sender delivers outbound mail, used for 2FA codes and password resets
type Sender interface {
	Send(receivers []string, subject, body string) error
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type sender struct {
	dialer         dialer
	host           string
	senderAddress  string
	senderName     string
	retryCount     int
	retryBackoffMs int
	sleep          func(time.Duration)
}

// NewSender creates a Sender from the mail configuration. When mail is
// disabled the returned Sender only logs.
func NewSender(cfg config.MailConfig) Sender {
	if !cfg.Enabled {
		utils.Log.Info("Outbound mail disabled, messages will be logged only")
		return LogSender{}
	}

	utils.Log.Info("Initializing mail sender for host: %s, port: %d, user: %s", cfg.Host, cfg.Port, cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		utils.Log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return newSender(d, cfg)
}

func newSender(d dialer, cfg config.MailConfig) *sender {
	retryCount := cfg.RetryCount
	if retryCount < 0 {
		retryCount = 0
	}
	retryBackoffMs := cfg.RetryBackoffMs
	if retryBackoffMs <= 0 {
		retryBackoffMs = 100
	}

	return &sender{
		dialer:         d,
		host:           cfg.Host,
		senderAddress:  cfg.SenderAddress,
		senderName:     cfg.SenderName,
		retryCount:     retryCount,
		retryBackoffMs: retryBackoffMs,
		sleep:          time.Sleep,
	}
}

// Send delivers a plain text message, retrying with exponential backoff
func (s *sender) Send(receivers []string, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("To", receivers...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	var lastErr error
	backoff := time.Duration(s.retryBackoffMs) * time.Millisecond

	for attempt := 0; attempt <= s.retryCount; attempt++ {
		err := s.dialer.DialAndSend(msg)
		if err == nil {
			utils.Log.Debug("Mail %q sent to %d receivers on attempt %d", subject, len(receivers), attempt+1)
			metrics.MailSendSuccess.Inc()
			return nil
		}

		lastErr = err
		if attempt < s.retryCount {
			utils.Log.Warn("Send attempt %d via %s failed: %v. Retrying in %s", attempt+1, s.host, err, backoff)
			s.sleep(backoff)
			backoff *= 2
			if backoff > 32*time.Second {
				backoff = 32 * time.Second
			}
		}
	}

	utils.Log.Error("Failed to send mail after %d attempts: %v", s.retryCount+1, lastErr)
	metrics.MailSendFailure.Inc()
	return lastErr
}

// LogSender writes messages to the log instead of sending them
type LogSender struct{}

// Send logs the message
func (LogSender) Send(receivers []string, subject, body string) error {
	utils.Log.Info("Mail to %v: %s: %s", receivers, subject, body)
	return nil
}
