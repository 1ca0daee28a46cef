package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/wneessen/go-mail"

	"github.com/genbarescue/gateway/internal/config"
)

// MailNotifier emails the administrator when an error record is written.
type MailNotifier struct {
	logger *slog.Logger
	cfg    config.AlertsConfig
}

// NewMailNotifier creates an SMTP notifier from the alerts config.
func NewMailNotifier(log *slog.Logger, cfg config.AlertsConfig) *MailNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &MailNotifier{
		logger: log.With(slog.String("service", "alerts")),
		cfg:    cfg,
	}
}

// NotifyError sends a short plain-text alert. When alerting is not
// configured it is a no-op.
func (n *MailNotifier) NotifyError(ctx context.Context, entry ErrorEntry) error {
	if !n.cfg.Enabled() {
		return nil
	}

	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := m.To(n.cfg.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	m.Subject(fmt.Sprintf("【緊急】現場レスキューAI エラー通知 (%s)", entry.Module))
	m.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"システムでエラーが発生しました。確認してください。\n\n"+
			"■ 発生時刻: %s\n"+
			"■ 発生箇所: %s\n"+
			"■ ユーザー: %s\n"+
			"■ エラー内容:\n%s\n\n"+
			"■ スタックトレース:\n%s\n",
		time.Now().Format(time.RFC3339), entry.Module, entry.UserID, entry.Message, entry.Trace))
	m.SetMessageID()

	opts := []mail.Option{
		mail.WithPort(n.cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if n.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(n.cfg.Username),
			mail.WithPassword(n.cfg.Password),
		)
	}

	client, err := mail.NewClient(n.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}
