package reconcile

import (
	"testing"
	"time"

	"github.com/givebridge/givebridge/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, string) {
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
		Name:          "Food Bank",
		PublicKey:     "pk_" + tenantID,
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewEngine(st), st, tenantID
}

func TestSubmitDraftGeneratesTrackingID(t *testing.T) {
	engine, st, tenantID := newTestEngine(t)

	draft, err := engine.SubmitDraft(DraftParams{
		TenantID:    tenantID,
		Email:       "  Donor@Example.COM ",
		FirstName:   "Ada",
		AmountCents: 2500,
		Campaign:    "reforestation",
	})
	if err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if draft.TrackingID == "" {
		t.Fatal("draft has no tracking key")
	}
	if draft.Email != "donor@example.com" {
		t.Errorf("email not normalized: %q", draft.Email)
	}

	stored, err := st.GetDraft(draft.TrackingID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil {
		t.Fatal("draft not persisted")
	}
}

func TestRecordPaymentEnrichesFromDraft(t *testing.T) {
	engine, st, tenantID := newTestEngine(t)

	draft, err := engine.SubmitDraft(DraftParams{
		TenantID:    tenantID,
		Email:       "donor@example.com",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		AmountCents: 2500,
		Campaign:    "reforestation",
		Address:     "12 Rue de la Paix",
		City:        "Paris",
		PostalCode:  "75002",
		Country:     "FR",
	})
	if err != nil {
		t.Fatal(err)
	}

	donation, err := engine.RecordPayment(ConfirmedPayment{
		TenantID:           tenantID,
		ProcessorReference: "pi_abc",
		AmountCents:        2500,
		TrackingID:         draft.TrackingID,
		Email:              "donor@example.com",
		PaymentMethodKind:  store.PaymentMethodCard,
		Status:             store.DonationCompleted,
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	// Address fields only exist on the draft and must carry over.
	if donation.City != "Paris" || donation.Country != "FR" {
		t.Errorf("draft address not merged: %+v", donation)
	}
	if donation.FirstName != "Ada" || donation.Campaign != "reforestation" {
		t.Errorf("draft identity not merged: %+v", donation)
	}

	// The draft is consumed exactly once.
	leftover, err := st.GetDraft(draft.TrackingID)
	if err != nil {
		t.Fatal(err)
	}
	if leftover != nil {
		t.Error("draft not deleted after consumption")
	}
}

func TestRecordPaymentEventFieldsWin(t *testing.T) {
	engine, _, tenantID := newTestEngine(t)

	draft, err := engine.SubmitDraft(DraftParams{
		TenantID:    tenantID,
		Email:       "draft@example.com",
		FirstName:   "Draft",
		AmountCents: 1000,
		Campaign:    "draft-campaign",
	})
	if err != nil {
		t.Fatal(err)
	}

	donation, err := engine.RecordPayment(ConfirmedPayment{
		TenantID:           tenantID,
		ProcessorReference: "pi_conflict",
		AmountCents:        1000,
		TrackingID:         draft.TrackingID,
		Email:              "event@example.com",
		Campaign:           "event-campaign",
		PaymentMethodKind:  store.PaymentMethodCard,
		Status:             store.DonationCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	if donation.Email != "event@example.com" {
		t.Errorf("event email should win, got %q", donation.Email)
	}
	if donation.Campaign != "event-campaign" {
		t.Errorf("event campaign should win, got %q", donation.Campaign)
	}
	// The event carried no first name; the draft fills the gap.
	if donation.FirstName != "Draft" {
		t.Errorf("draft first name should fill gap, got %q", donation.FirstName)
	}
}

func TestRecordPaymentDuplicateDelivery(t *testing.T) {
	engine, st, tenantID := newTestEngine(t)

	payment := ConfirmedPayment{
		TenantID:           tenantID,
		ProcessorReference: "pi_dup",
		AmountCents:        500,
		Email:              "donor@example.com",
		PaymentMethodKind:  store.PaymentMethodBankDebit,
		Status:             store.DonationCompleted,
	}
	first, err := engine.RecordPayment(payment)
	if err != nil {
		t.Fatal(err)
	}

	payment.AmountCents = 99999 // redelivery with mangled payload
	second, err := engine.RecordPayment(payment)
	if err != nil {
		t.Fatalf("duplicate delivery errored: %v", err)
	}
	if second.ID != first.ID || second.AmountCents != 500 {
		t.Errorf("existing row did not win: %+v", second)
	}

	list, err := st.ListDonationsByTenant(tenantID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("donations=%d, want 1", len(list))
	}
}

func TestRecordPaymentWithoutDraft(t *testing.T) {
	engine, _, tenantID := newTestEngine(t)

	// Event-before-draft or abandoned drafts: the payment is still durable.
	donation, err := engine.RecordPayment(ConfirmedPayment{
		TenantID:           tenantID,
		ProcessorReference: "pi_orphan",
		AmountCents:        750,
		TrackingID:         "no-such-draft",
		Email:              "donor@example.com",
		PaymentMethodKind:  store.PaymentMethodCard,
		Status:             store.DonationCompleted,
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if donation.AmountCents != 750 {
		t.Errorf("donation not recorded: %+v", donation)
	}
}

func TestRecordPaymentIgnoresForeignTenantDraft(t *testing.T) {
	engine, st, tenantID := newTestEngine(t)

	otherID, err := store.GenerateTenantID()
	if err != nil {
		t.Fatal(err)
	}
	err = st.CreateTenant(&store.Tenant{
		ID:            otherID,
		Name:          "Animal Shelter",
		PublicKey:     "pk_" + otherID,
		SecretKey:     "sk_other",
		WebhookSecret: "whsec_other",
	})
	if err != nil {
		t.Fatal(err)
	}
	draft, err := engine.SubmitDraft(DraftParams{
		TenantID:    otherID,
		Email:       "victim@example.com",
		FirstName:   "Grace",
		AmountCents: 1000,
		City:        "Berlin",
	})
	if err != nil {
		t.Fatal(err)
	}

	// The tracking key travels through client-controlled intent metadata, so
	// one tenant's payment can arrive carrying another tenant's key.
	donation, err := engine.RecordPayment(ConfirmedPayment{
		TenantID:           tenantID,
		ProcessorReference: "pi_cross",
		AmountCents:        1000,
		TrackingID:         draft.TrackingID,
		Email:              "attacker@example.com",
		PaymentMethodKind:  store.PaymentMethodCard,
		Status:             store.DonationCompleted,
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	if donation.FirstName != "" || donation.City != "" {
		t.Errorf("foreign tenant's draft leaked into donation: %+v", donation)
	}

	// The other tenant's draft survives for its own payment.
	leftover, err := st.GetDraft(draft.TrackingID)
	if err != nil {
		t.Fatal(err)
	}
	if leftover == nil {
		t.Fatal("foreign tenant's draft was consumed")
	}

	own, err := engine.RecordPayment(ConfirmedPayment{
		TenantID:           otherID,
		ProcessorReference: "pi_own",
		AmountCents:        1000,
		TrackingID:         draft.TrackingID,
		PaymentMethodKind:  store.PaymentMethodCard,
		Status:             store.DonationCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	if own.FirstName != "Grace" || own.City != "Berlin" {
		t.Errorf("owning tenant's payment not enriched: %+v", own)
	}
}

func TestRecordPaymentRejectsEmptyReference(t *testing.T) {
	engine, _, tenantID := newTestEngine(t)

	_, err := engine.RecordPayment(ConfirmedPayment{TenantID: tenantID, AmountCents: 100})
	if err == nil {
		t.Fatal("expected error for empty processor reference")
	}
}

func TestExpireDrafts(t *testing.T) {
	engine, st, tenantID := newTestEngine(t)

	err := st.CreateDraft(&store.DonationDraft{
		TrackingID:  "STALE",
		TenantID:    tenantID,
		Email:       "stale@example.com",
		AmountCents: 100,
		CreatedAt:   time.Now().UTC().Add(-72 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	fresh, err := engine.SubmitDraft(DraftParams{TenantID: tenantID, Email: "fresh@example.com", AmountCents: 100})
	if err != nil {
		t.Fatal(err)
	}

	engine.ExpireDrafts(24 * time.Hour)

	if d, _ := st.GetDraft("STALE"); d != nil {
		t.Error("stale draft survived expiry")
	}
	if d, _ := st.GetDraft(fresh.TrackingID); d == nil {
		t.Error("fresh draft expired prematurely")
	}
}
