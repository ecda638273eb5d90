// Command stripe-webhook-sim posts a signed Stripe event to the billing
// webhook so plan changes can be exercised without a Stripe account.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/garageflow/garageflow/libs/config"
	"github.com/garageflow/garageflow/libs/plans"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v79/webhook"
)

type options struct {
	baseURL      string
	eventType    string
	tenantID     string
	plan         string
	status       string
	customer     string
	subscription string
	secret       string
}

func main() {
	var o options
	flag.StringVar(&o.baseURL, "base-url", config.String("BASE_URL", "http://localhost:8080"), "gateway base url")
	flag.StringVar(&o.eventType, "type", config.String("STRIPE_EVENT_TYPE", "checkout.session.completed"), "stripe event type")
	flag.StringVar(&o.tenantID, "tenant-id", config.String("TENANT_ID", ""), "tenant_id metadata")
	flag.StringVar(&o.plan, "plan", config.String("PLAN", string(plans.Starter)), "plan metadata")
	flag.StringVar(&o.status, "status", "active", "subscription status for customer.subscription.* events")
	flag.StringVar(&o.customer, "customer", "cus_test_sim", "stripe customer id")
	flag.StringVar(&o.subscription, "subscription", "sub_test_sim", "stripe subscription id")
	flag.StringVar(&o.secret, "secret", config.String("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
	flag.Parse()

	if err := o.validate(); err != nil {
		fatal(err.Error())
	}

	now := time.Now().UTC()
	payload, err := buildEventJSON(fmt.Sprintf("evt_sim_%d", now.UnixNano()), now, o)
	if err != nil {
		fatal(err.Error())
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    o.secret,
		Timestamp: now,
		Scheme:    "v1",
	})

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(o.baseURL, "/")+"/api/v1/billing/webhooks/stripe", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func (o options) validate() error {
	if strings.TrimSpace(o.secret) == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required")
	}
	if _, err := uuid.Parse(o.tenantID); err != nil {
		return fmt.Errorf("TENANT_ID must be a uuid (got %q)", o.tenantID)
	}
	if p := plans.Plan(strings.ToLower(o.plan)); !p.Valid() {
		return fmt.Errorf("unknown plan %q", o.plan)
	}
	return nil
}

func buildEventJSON(eventID string, t time.Time, o options) ([]byte, error) {
	metadata := map[string]any{
		"tenant_id": o.tenantID,
		"plan":      strings.ToLower(o.plan),
	}
	var object map[string]any
	switch o.eventType {
	case "checkout.session.completed":
		object = map[string]any{
			"id":           "cs_test_sim",
			"object":       "checkout.session",
			"customer":     o.customer,
			"subscription": o.subscription,
			"metadata":     metadata,
		}
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		status := o.status
		if o.eventType == "customer.subscription.deleted" {
			status = "canceled"
		}
		object = map[string]any{
			"id":                   o.subscription,
			"object":               "subscription",
			"customer":             o.customer,
			"status":               status,
			"current_period_start": t.Unix(),
			"current_period_end":   t.AddDate(0, 1, 0).Unix(),
			"metadata":             metadata,
		}
	default:
		return nil, fmt.Errorf("unsupported event type: %s", o.eventType)
	}
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        o.eventType,
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
