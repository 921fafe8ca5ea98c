package alert

import (
	"errors"
	"testing"

	"gopkg.in/gomail.v2"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
)

type fakeSender struct {
	messages []*gomail.Message
	err      error
}

func (f *fakeSender) DialAndSend(m ...*gomail.Message) error {
	f.messages = append(f.messages, m...)
	return f.err
}

func TestNotifyDisabledSkipsSend(t *testing.T) {
	fake := &fakeSender{}
	m := NewMailer(config.AlertConfig{Enabled: false}, nil)
	m.dialer = fake

	m.Notify("subject", "body")

	if len(fake.messages) != 0 {
		t.Fatalf("disabled mailer must not send, got %d messages", len(fake.messages))
	}
}

func TestNotifySendsWithPrefix(t *testing.T) {
	fake := &fakeSender{}
	m := NewMailer(config.AlertConfig{
		Enabled:   true,
		SMTPHost:  "smtp.example.com",
		SMTPPort:  587,
		Username:  "bot@example.com",
		Recipient: "ops@example.com",
	}, nil)
	m.dialer = fake

	m.Notify("订单异常", "order ord-1 needs attention")

	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	subject := fake.messages[0].GetHeader("Subject")
	if len(subject) != 1 || subject[0] != "[P2P Bot] 订单异常" {
		t.Errorf("unexpected subject %v", subject)
	}
	to := fake.messages[0].GetHeader("To")
	if len(to) != 1 || to[0] != "ops@example.com" {
		t.Errorf("unexpected recipient %v", to)
	}
}

func TestNotifySwallowsSendError(t *testing.T) {
	fake := &fakeSender{err: errors.New("dial tcp: connection refused")}
	m := NewMailer(config.AlertConfig{Enabled: true, Recipient: "ops@example.com"}, nil)
	m.dialer = fake

	// must not panic or propagate
	m.Notify("subject", "body")
}
