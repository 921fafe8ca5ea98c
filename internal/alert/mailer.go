// Package alert 通过邮件上报需要人工介入的事件。
package alert

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/obachibuike2003/my-p2p-dashboard/internal/config"
)

// sender 抽象邮件发送，便于测试替换。
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer 将告警通过 SMTP 发送给运营邮箱。
// 告警通道自身的故障只记录日志，不会向上传播。
type Mailer struct {
	cfg    config.AlertConfig
	dialer sender
	logger *zap.Logger
}

// NewMailer 构造告警发送器。未启用时仍返回可用实例，发送动作降级为日志。
func NewMailer(cfg config.AlertConfig, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Mailer{cfg: cfg, logger: logger}
	if cfg.Enabled {
		m.dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	}
	return m
}

// Notify 发送一条告警。subject 会带上固定前缀方便收件箱过滤。
func (m *Mailer) Notify(subject, body string) {
	if !m.cfg.Enabled {
		m.logger.Debug("告警通道未启用，仅记录日志",
			zap.String("subject", subject),
			zap.String("body", body),
		)
		return
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.Username)
	msg.SetHeader("To", m.cfg.Recipient)
	msg.SetHeader("Subject", fmt.Sprintf("[P2P Bot] %s", subject))
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		m.logger.Error("发送告警邮件失败",
			zap.String("subject", subject),
			zap.Error(err),
		)
		return
	}

	m.logger.Info("告警邮件已发送", zap.String("subject", subject))
}
