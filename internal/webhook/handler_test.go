package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"github.com/givebridge/givebridge/internal/catalog"
	"github.com/givebridge/givebridge/internal/lifecycle"
	"github.com/givebridge/givebridge/internal/notify"
	"github.com/givebridge/givebridge/internal/processor"
	"github.com/givebridge/givebridge/internal/reconcile"
	"github.com/givebridge/givebridge/internal/store"
	"github.com/givebridge/givebridge/internal/tenant"
)

const (
	testPublicKey = "pk_test_tenant"
	testSecret    = "whsec_test_secret"
)

type nullClient struct {
	processor.Client
}

type nullNotifier struct{}

func (nullNotifier) Send(context.Context, notify.Notification) error { return nil }

func newTestHandler(t *testing.T) (*Handler, *store.Store, string) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tenantID, err := store.GenerateTenantID()
	if err != nil {
		t.Fatal(err)
	}
	err = st.CreateTenant(&store.Tenant{
		ID:            tenantID,
		Name:          "River Trust",
		PublicKey:     testPublicKey,
		SecretKey:     "sk_test",
		WebhookSecret: testSecret,
	})
	if err != nil {
		t.Fatal(err)
	}

	tenants := tenant.NewResolver(st)
	reconciler := reconcile.NewEngine(st)
	lc := lifecycle.NewManager(st, tenants, func(string) processor.Client { return nullClient{} }, catalog.NewManager(st), nullNotifier{})
	return NewHandler(tenants, reconciler, lc), st, tenantID
}

func signedRequest(t *testing.T, secret, payload string) *http.Request {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook?pk="+testPublicKey, bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func eventJSON(eventType string, created int64, object string) string {
	return fmt.Sprintf(`{"id":"evt_1","object":"event","type":%q,"created":%d,"data":{"object":%s}}`, eventType, created, object)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	payload := eventJSON("payment_intent.succeeded", time.Now().Unix(), `{"id":"pi_1","amount":1000}`)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook?pk="+testPublicKey, bytes.NewReader([]byte(payload)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bogus")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestWebhookRejectsUnknownPublicKey(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	payload := eventJSON("payment_intent.succeeded", time.Now().Unix(), `{"id":"pi_1","amount":1000}`)
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook?pk=pk_ghost", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook?pk="+testPublicKey, bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestWebhookRejectsNonPost(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stripe/webhook?pk="+testPublicKey, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d, want 405", rec.Code)
	}
}

func TestWebhookPaymentIntentSucceeded(t *testing.T) {
	handler, st, tenantID := newTestHandler(t)

	// Draft submitted before payment; the event carries the tracking key.
	draft, err := reconcile.NewEngine(st).SubmitDraft(reconcile.DraftParams{
		TenantID:    tenantID,
		Email:       "donor@example.com",
		FirstName:   "Ada",
		AmountCents: 2500,
		Campaign:    "reforestation",
		City:        "Lyon",
		Country:     "FR",
	})
	if err != nil {
		t.Fatal(err)
	}

	object := fmt.Sprintf(`{"id":"pi_hook","amount":2500,"currency":"eur","payment_method_types":["card"],"metadata":{"tenant_id":%q,"tracking_id":%q,"email":"donor@example.com","campaign":"reforestation","amount_cents":"2500"}}`, tenantID, draft.TrackingID)
	req := signedRequest(t, testSecret, eventJSON("payment_intent.succeeded", time.Now().Unix(), object))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, body=%s", rec.Code, rec.Body.String())
	}

	donation, err := st.GetDonationByProcessorReference("pi_hook")
	if err != nil {
		t.Fatal(err)
	}
	if donation == nil {
		t.Fatal("donation not recorded")
	}
	if donation.Status != store.DonationCompleted || donation.AmountCents != 2500 {
		t.Errorf("donation: %+v", donation)
	}
	if donation.City != "Lyon" {
		t.Errorf("draft enrichment missing: %+v", donation)
	}

	// Redelivery is acknowledged without a second row.
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, signedRequest(t, testSecret, eventJSON("payment_intent.succeeded", time.Now().Unix(), object)))
	if rec2.Code != http.StatusOK {
		t.Fatalf("redelivery status=%d", rec2.Code)
	}
	list, err := st.ListDonationsByTenant(tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("donations=%d, want 1", len(list))
	}
}

func TestWebhookPaymentIntentFailed(t *testing.T) {
	handler, st, _ := newTestHandler(t)

	object := `{"id":"pi_failed","amount":900,"payment_method_types":["sepa_debit"],"metadata":{}}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, testSecret, eventJSON("payment_intent.payment_failed", time.Now().Unix(), object)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}

	donation, err := st.GetDonationByProcessorReference("pi_failed")
	if err != nil {
		t.Fatal(err)
	}
	if donation == nil || donation.Status != store.DonationFailed {
		t.Fatalf("failed donation not recorded: %+v", donation)
	}
	if donation.PaymentMethodKind != store.PaymentMethodBankDebit {
		t.Errorf("kind=%s, want bank_debit", donation.PaymentMethodKind)
	}
}

func TestWebhookInvoiceEvents(t *testing.T) {
	handler, st, tenantID := newTestHandler(t)

	subID, err := store.GenerateSubscriptionID()
	if err != nil {
		t.Fatal(err)
	}
	err = st.CreateSubscription(&store.Subscription{
		ID:                      subID,
		TenantID:                tenantID,
		ProcessorSubscriptionID: "sub_hook",
		ProcessorCustomerID:     "cus_1",
		Email:                   "donor@example.com",
		AmountCents:             1200,
		PaymentMethodKind:       store.PaymentMethodBankDebit,
		Status:                  store.SubscriptionIncomplete,
	})
	if err != nil {
		t.Fatal(err)
	}

	paid := `{"id":"in_1","subscription":"sub_hook"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, testSecret, eventJSON("invoice.payment_succeeded", time.Now().Unix(), paid)))
	if rec.Code != http.StatusOK {
		t.Fatalf("paid status=%d, body=%s", rec.Code, rec.Body.String())
	}
	got, _ := st.GetSubscription(subID)
	if got.Status != store.SubscriptionActive {
		t.Errorf("status=%s, want active", got.Status)
	}

	failed := `{"id":"in_2","parent":{"subscription_details":{"subscription":"sub_hook"}},"last_finalization_error":{"code":"payment_failed","decline_code":"insufficient_funds","message":"no funds"}}`
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, testSecret, eventJSON("invoice.payment_failed", time.Now().Add(time.Minute).Unix(), failed)))
	if rec.Code != http.StatusOK {
		t.Fatalf("failed status=%d", rec.Code)
	}
	got, _ = st.GetSubscription(subID)
	if got.Status != store.SubscriptionPastDue {
		t.Errorf("status=%s, want past_due", got.Status)
	}
	if records, _ := st.ListFailureRecords(subID); len(records) != 1 {
		t.Errorf("failure records: %+v", records)
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	handler, st, tenantID := newTestHandler(t)

	subID, err := store.GenerateSubscriptionID()
	if err != nil {
		t.Fatal(err)
	}
	err = st.CreateSubscription(&store.Subscription{
		ID:                      subID,
		TenantID:                tenantID,
		ProcessorSubscriptionID: "sub_gone",
		Email:                   "donor@example.com",
		AmountCents:             500,
		PaymentMethodKind:       store.PaymentMethodCard,
		Status:                  store.SubscriptionActive,
	})
	if err != nil {
		t.Fatal(err)
	}

	object := `{"id":"sub_gone","status":"canceled"}`
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, testSecret, eventJSON("customer.subscription.deleted", time.Now().Unix(), object)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	got, _ := st.GetSubscription(subID)
	if got.Status != store.SubscriptionCanceled {
		t.Errorf("status=%s, want canceled", got.Status)
	}
}

func TestWebhookIgnoresUnhandledTypes(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, testSecret, eventJSON("customer.created", time.Now().Unix(), `{"id":"cus_x"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, unhandled types must be acknowledged", rec.Code)
	}
}
