// Package mailer sends transactional customer emails through an HTTP mail
// relay. Mail is always best-effort; callers must never fail an order flow
// because a message could not be sent.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Mailer sends customer notifications.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, event *models.OrderPlacedEvent) error
	SendShippedNotification(ctx context.Context, event *models.OrderShippedEvent) error
}

// New returns the HTTP relay mailer when configured, otherwise a logging
// mailer so the rest of the system behaves identically in development.
func New(cfg config.MailConfig) Mailer {
	if cfg.APIURL == "" {
		return &LogMailer{logger: util.GetLogger()}
	}
	return &RelayMailer{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: util.GetLogger(),
	}
}

// RelayMailer posts messages to an HTTP mail relay.
type RelayMailer struct {
	cfg    config.MailConfig
	client *http.Client
	logger *zap.Logger
}

type relayMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

func (m *RelayMailer) send(ctx context.Context, kind string, msg relayMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		util.MailsSentTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("mail relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		util.MailsSentTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}
	util.MailsSentTotal.WithLabelValues(kind, "ok").Inc()
	return nil
}

func (m *RelayMailer) SendOrderConfirmation(ctx context.Context, event *models.OrderPlacedEvent) error {
	var lines bytes.Buffer
	for _, item := range event.Items {
		fmt.Fprintf(&lines, "  %dx %s (%s) a EUR %s\n",
			item.Quantity, item.ProductTitle, item.ProductSKU, payment.FormatAmount(item.UnitPrice))
	}
	text := fmt.Sprintf(
		"Ciao %s,\n\ngrazie per il tuo ordine %s.\n\nRiepilogo:\n%s\nTotale: EUR %s\n\nTi avviseremo quando l'ordine sara' spedito.\n",
		event.FullName, event.OrderCode, lines.String(), payment.FormatAmount(event.Total))

	return m.send(ctx, "order_confirmation", relayMessage{
		From:    m.cfg.FromEmail,
		To:      event.Email,
		Subject: fmt.Sprintf("Conferma ordine %s", event.OrderCode),
		Text:    text,
	})
}

func (m *RelayMailer) SendShippedNotification(ctx context.Context, event *models.OrderShippedEvent) error {
	text := fmt.Sprintf("Ciao %s,\n\nil tuo ordine %s e' stato spedito.\n", event.FullName, event.OrderCode)
	if event.Carrier != "" {
		text += fmt.Sprintf("Corriere: %s\n", event.Carrier)
	}
	if event.TrackingNumber != "" {
		text += fmt.Sprintf("Tracking: %s\n", event.TrackingNumber)
	}

	return m.send(ctx, "order_shipped", relayMessage{
		From:    m.cfg.FromEmail,
		To:      event.Email,
		Subject: fmt.Sprintf("Ordine %s spedito", event.OrderCode),
		Text:    text,
	})
}

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct {
	logger *zap.Logger
}

func (m *LogMailer) SendOrderConfirmation(_ context.Context, event *models.OrderPlacedEvent) error {
	m.logger.Info("Mail (log only): order confirmation",
		zap.String("to", event.Email),
		zap.String("order_code", event.OrderCode))
	util.MailsSentTotal.WithLabelValues("order_confirmation", "logged").Inc()
	return nil
}

func (m *LogMailer) SendShippedNotification(_ context.Context, event *models.OrderShippedEvent) error {
	m.logger.Info("Mail (log only): order shipped",
		zap.String("to", event.Email),
		zap.String("order_code", event.OrderCode))
	util.MailsSentTotal.WithLabelValues("order_shipped", "logged").Inc()
	return nil
}
