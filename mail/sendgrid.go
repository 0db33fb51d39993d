package mail

import (
	"context"
	"net/http"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"
	"github.com/aisgo/botrunner/metrics"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

// SendGrid SendGrid v3 Mail Send 客户端
type SendGrid struct {
	cfg    Config
	client *resty.Client
	log    *logger.Logger
}

// NewSendGrid 创建 SendGrid 客户端
func NewSendGrid(cfg Config, log *logger.Logger) *SendGrid {
	cfg = cfg.WithDefaults()
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.SendGridAPIKey != "" {
		client.SetAuthToken(cfg.SendGridAPIKey)
	}
	return &SendGrid{cfg: cfg, client: client, log: log}
}

// Send 发送纯文本邮件，仅 200 / 202 视为成功
func (s *SendGrid) Send(ctx context.Context, to, subject, body string) (err error) {
	defer func() {
		metrics.EmailsTotal.WithLabelValues("outbound", metrics.Status(err)).Inc()
	}()

	if s.cfg.SendGridAPIKey == "" {
		return errors.New(errors.ErrCodeUnavailable, "sendgrid api key not configured")
	}
	if to == "" {
		return errors.ErrInvalidArgument
	}

	req := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: to}}}},
		From:             address{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		Subject:          subject,
		Content:          []content{{Type: "text/plain", Value: body}},
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		Post("/v3/mail/send")
	if err != nil {
		return errors.Wrap(errors.ErrCodeUpstream, "sendgrid request failed", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusAccepted:
		s.log.WithContext(ctx).Info("email sent", zap.String("to", to), zap.String("subject", subject))
		return nil
	default:
		s.log.WithContext(ctx).Warn("sendgrid rejected email",
			zap.Int("status", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return errors.Wrapf(errors.ErrCodeUpstream, nil, "sendgrid returned status %d", resp.StatusCode())
	}
}
