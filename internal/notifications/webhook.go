package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/trahn-sim/internal/httputil"
	"github.com/kjannette/trahn-sim/internal/metrics"
	"github.com/kjannette/trahn-sim/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultBotName = "trahn-sim"

type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	limiter    *rate.Limiter
	log        *logrus.Logger
}

// NewSender posts to a Slack or Discord compatible webhook. perMinute caps
// outgoing messages; anything above the cap is dropped. Zero disables the cap.
func NewSender(webhookURL, botName string, perMinute int, log *logrus.Logger) *Sender {
	if botName == "" {
		botName = DefaultBotName
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
			Log:         log,
		},
		limiter: limiter,
		log:     log,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

// NotifyTrade reports an executed, failed or manual trade.
func (s *Sender) NotifyTrade(n models.Notification) {
	s.Send(FormatTrade(n))
}

// NotifyAlert reports a starvation or risk alert.
func (s *Sender) NotifyAlert(a models.Alert) {
	s.Send(fmt.Sprintf("ALERT [%s] %s: %s", a.Kind, a.UserID, a.Message))
}

// Send blocks until the webhook accepts the message or retries run out.
func (s *Sender) Send(msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	s.log.WithField("webhook", s.Enabled()).Info(formatted)

	if s.webhookURL == "" {
		return
	}
	if !s.limiter.Allow() {
		metrics.NotificationsDropped.WithLabelValues("webhook").Inc()
		s.log.Warn("Webhook rate limit reached, message dropped")
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.WithError(err).Error("Marshal webhook payload")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to send notification after retries")
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

// FormatTrade renders a one-line summary of a trade notification.
func FormatTrade(n models.Notification) string {
	t := n.Trade
	if t == nil {
		return fmt.Sprintf("%s: %s", n.UserID, n.Reason)
	}
	side := strings.ToUpper(string(t.Side))
	if t.Failed() {
		return fmt.Sprintf("%s: %s %s FAILED (%s), fee %.4f", n.UserID, side, t.Symbol, n.Reason, t.Fee)
	}
	msg := fmt.Sprintf("%s: %s %.6g %s @ %.6g, fee %.4f, total %.4f",
		n.UserID, side, t.Quantity, t.Symbol, t.Price, t.Fee, t.Total)
	if t.RealizedProfit != nil {
		msg += fmt.Sprintf(", P&L %+.4f", *t.RealizedProfit)
	}
	return msg
}
