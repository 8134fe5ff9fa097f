package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/medihim/ippo-platform/pkg/logging"
)

// ReportMailer composes and sends the consultation report email. The mail
// carries a tokenized link; the token is the customer's only credential.
type ReportMailer struct {
	sender        EmailSender
	publicBaseURL string
	replyTo       string
	logger        *logging.Logger
}

// NewReportMailer creates a report mailer on top of any EmailSender.
func NewReportMailer(sender EmailSender, publicBaseURL, replyTo string, logger *logging.Logger) *ReportMailer {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReportMailer{
		sender:        sender,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		replyTo:       replyTo,
		logger:        logger,
	}
}

// ReportURL returns the public link for an access token.
func (m *ReportMailer) ReportURL(accessToken string) string {
	return fmt.Sprintf("%s/report/%s", m.publicBaseURL, accessToken)
}

// SendReportEmail sends the "your report is ready" email to a customer.
func (m *ReportMailer) SendReportEmail(ctx context.Context, toEmail, customerName, accessToken string) error {
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("notify: recipient email is empty")
	}
	if customerName == "" {
		customerName = "お客"
	}

	url := m.ReportURL(accessToken)
	subject := fmt.Sprintf("【イッポ】%s様 ご相談リポートが届きました", customerName)

	msg := EmailMessage{
		To:      toEmail,
		ToName:  customerName,
		Subject: subject,
		Body:    reportTextBody(customerName, url),
		HTML:    reportHTMLBody(customerName, url),
		ReplyTo: m.replyTo,
	}

	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("notify: send report email: %w", err)
	}

	m.logger.Info("report email sent", "to", toEmail, "customer", customerName)
	return nil
}

func reportTextBody(customerName, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s様\n\n", customerName)
	b.WriteString("いつもイッポをご利用いただきありがとうございます。\n")
	b.WriteString("ご相談内容をもとにしたリポートをお届けします。\n\n")
	fmt.Fprintf(&b, "リポートはこちら: %s\n\n", url)
	b.WriteString("※閲覧時に生年月日の入力が必要です。\n")
	b.WriteString("※本リポートの有効期限は30日間です。\n")
	return b.String()
}

func reportHTMLBody(customerName, url string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: 'Hiragino Sans', 'Noto Sans JP', sans-serif; max-width: 560px; margin: 0 auto; padding: 24px;">`)
	b.WriteString(`<h2 style="color: #2c5f6f;">イッポ ご相談リポート</h2>`)
	fmt.Fprintf(&b, `<p>%s様</p>`, customerName)
	b.WriteString(`<p>いつもイッポをご利用いただきありがとうございます。<br>ご相談内容をもとにしたリポートをお届けします。</p>`)
	fmt.Fprintf(&b, `<p style="text-align: center; margin: 32px 0;"><a href="%s" style="background-color: #2c5f6f; color: #ffffff; padding: 12px 32px; text-decoration: none; border-radius: 6px; display: inline-block;">リポートを見る</a></p>`, url)
	b.WriteString(`<p style="font-size: 13px; color: #888;">※閲覧時に生年月日の入力が必要です。<br>※本リポートの有効期限は30日間です。</p>`)
	b.WriteString(`</div>`)
	return b.String()
}
