package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
)

var ErrMissingWebhook = errors.New("slack_webhook_missing")

type message struct {
	Text string `json:"text"`
}

// Provider posts reports to a Slack incoming webhook.
type Provider struct {
	webhookURL string
	client     *http.Client
}

func New(webhookURL string) (*Provider, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, ErrMissingWebhook
	}
	return &Provider{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (p *Provider) Name() string { return "slack" }

func (p *Provider) Send(ctx context.Context, report alertdomain.Report) error {
	body, err := json.Marshal(message{Text: Format(report)})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Format renders a report as a compact Slack message.
func Format(report alertdomain.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s* failure (%s)", report.Source, report.Kind)
	if report.OrgID != 0 {
		fmt.Fprintf(&b, "\norganization: `%s`", report.OrgID)
	}
	if report.SubscriptionID != 0 {
		fmt.Fprintf(&b, "\nsubscription: `%s`", report.SubscriptionID)
	}
	if report.InvoiceID != 0 {
		fmt.Fprintf(&b, "\ninvoice: `%s`", report.InvoiceID)
	}
	if len(report.Attributes) > 0 {
		keys := make([]string, 0, len(report.Attributes))
		for k := range report.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "\n%s: %s", k, report.Attributes[k])
		}
	}
	if report.Message != "" {
		fmt.Fprintf(&b, "\n> %s", report.Message)
	}
	return b.String()
}
