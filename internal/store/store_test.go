package store

import (
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedTenant(t *testing.T, st *Store) *Tenant {
	t.Helper()
	id, err := GenerateTenantID()
	if err != nil {
		t.Fatalf("GenerateTenantID: %v", err)
	}
	tn := &Tenant{
		ID:            id,
		Name:          "Ocean Cleanup",
		PublicKey:     "pk_test_" + id,
		SecretKey:     "sk_test_abc",
		WebhookSecret: "whsec_abc",
	}
	if err := st.CreateTenant(tn); err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	return tn
}

func TestGenerateTenantID(t *testing.T) {
	id, err := GenerateTenantID()
	if err != nil {
		t.Fatalf("GenerateTenantID: %v", err)
	}
	if !strings.HasPrefix(id, "t-") {
		t.Errorf("expected prefix t-, got %q", id)
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateTenantID()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate tenant ID: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateID_CrockfordCharset(t *testing.T) {
	for i := 0; i < 50; i++ {
		id, err := GenerateSubscriptionID()
		if err != nil {
			t.Fatal(err)
		}
		suffix := id[2:] // strip "s-"
		for _, c := range suffix {
			if !strings.ContainsRune(crockfordBase32, c) {
				t.Errorf("character %q not in Crockford base32 alphabet (id=%s)", c, id)
			}
		}
	}
}

func TestTenantLifecycle(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	got, err := st.GetTenant(tn.ID)
	if err != nil {
		t.Fatalf("GetTenant: %v", err)
	}
	if got == nil || got.Name != "Ocean Cleanup" {
		t.Fatalf("unexpected tenant: %+v", got)
	}

	byPK, err := st.GetTenantByPublicKey(tn.PublicKey)
	if err != nil {
		t.Fatalf("GetTenantByPublicKey: %v", err)
	}
	if byPK == nil || byPK.ID != tn.ID {
		t.Fatalf("lookup by public key returned %+v", byPK)
	}

	if err := st.UpdateTenantCredentials(tn.ID, "pk_new", "sk_new", "whsec_new"); err != nil {
		t.Fatalf("UpdateTenantCredentials: %v", err)
	}
	rotated, err := st.GetTenant(tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated.SecretKey != "sk_new" || rotated.WebhookSecret != "whsec_new" || rotated.PublicKey != "pk_new" {
		t.Errorf("credentials not rotated: %+v", rotated)
	}

	missing, err := st.GetTenant("t-MISSING")
	if err != nil {
		t.Fatalf("GetTenant missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown tenant, got %+v", missing)
	}
}

func TestDraftLifecycle(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	draft := &DonationDraft{
		TrackingID:  "01J0TRACK",
		TenantID:    tn.ID,
		Email:       "donor@example.com",
		FirstName:   "Ada",
		LastName:    "Lovelace",
		AmountCents: 2500,
		Campaign:    "reforestation",
		City:        "Lyon",
		Country:     "FR",
	}
	if err := st.CreateDraft(draft); err != nil {
		t.Fatalf("CreateDraft: %v", err)
	}

	got, err := st.GetDraft("01J0TRACK")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if got == nil || got.Email != "donor@example.com" || got.AmountCents != 2500 {
		t.Fatalf("unexpected draft: %+v", got)
	}

	if err := st.DeleteDraft("01J0TRACK"); err != nil {
		t.Fatalf("DeleteDraft: %v", err)
	}
	gone, err := st.GetDraft("01J0TRACK")
	if err != nil {
		t.Fatal(err)
	}
	if gone != nil {
		t.Errorf("draft survived deletion: %+v", gone)
	}
}

func TestDeleteDraftsBefore(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	old := &DonationDraft{
		TrackingID:  "OLD",
		TenantID:    tn.ID,
		Email:       "old@example.com",
		AmountCents: 500,
		CreatedAt:   time.Now().UTC().Add(-48 * time.Hour),
	}
	fresh := &DonationDraft{
		TrackingID:  "FRESH",
		TenantID:    tn.ID,
		Email:       "fresh@example.com",
		AmountCents: 500,
	}
	if err := st.CreateDraft(old); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateDraft(fresh); err != nil {
		t.Fatal(err)
	}

	deleted, err := st.DeleteDraftsBefore(time.Now().UTC().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteDraftsBefore: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted=%d, want 1", deleted)
	}
	if d, _ := st.GetDraft("FRESH"); d == nil {
		t.Error("fresh draft should survive the sweep")
	}
}

func TestInsertDonationIdempotent(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	first := &Donation{
		TenantID:           tn.ID,
		AmountCents:        1000,
		Email:              "donor@example.com",
		PaymentMethodKind:  PaymentMethodCard,
		Status:             DonationCompleted,
		ProcessorReference: "pi_123",
	}
	inserted, err := st.InsertDonation(first)
	if err != nil {
		t.Fatalf("InsertDonation: %v", err)
	}
	if !inserted {
		t.Fatal("first insert reported duplicate")
	}

	// Same processor reference with different data must be ignored.
	second := &Donation{
		TenantID:           tn.ID,
		AmountCents:        9999,
		Email:              "other@example.com",
		PaymentMethodKind:  PaymentMethodCard,
		Status:             DonationCompleted,
		ProcessorReference: "pi_123",
	}
	inserted, err = st.InsertDonation(second)
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Fatal("duplicate insert not detected")
	}

	got, err := st.GetDonationByProcessorReference("pi_123")
	if err != nil {
		t.Fatal(err)
	}
	if got.AmountCents != 1000 || got.Email != "donor@example.com" {
		t.Errorf("existing row did not win: %+v", got)
	}

	list, err := st.ListDonationsByTenant(tn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("donation count=%d, want 1", len(list))
	}
}

func TestUpdateDonationEnrichment(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	d := &Donation{
		TenantID:           tn.ID,
		AmountCents:        1500,
		Email:              "donor@example.com",
		PaymentMethodKind:  PaymentMethodBankDebit,
		Status:             DonationCompleted,
		ProcessorReference: "pi_enrich",
	}
	if _, err := st.InsertDonation(d); err != nil {
		t.Fatal(err)
	}

	draft := &DonationDraft{
		Email:      "donor@example.com",
		FirstName:  "Grace",
		LastName:   "Hopper",
		Campaign:   "winter-appeal",
		Address:    "1 Navy Way",
		City:       "Arlington",
		PostalCode: "22202",
		Country:    "US",
	}
	if err := st.UpdateDonationEnrichment(d.ID, draft); err != nil {
		t.Fatalf("UpdateDonationEnrichment: %v", err)
	}

	got, err := st.GetDonationByProcessorReference("pi_enrich")
	if err != nil {
		t.Fatal(err)
	}
	if got.FirstName != "Grace" || got.City != "Arlington" || got.Campaign != "winter-appeal" {
		t.Errorf("enrichment not applied: %+v", got)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	id, err := GenerateSubscriptionID()
	if err != nil {
		t.Fatal(err)
	}
	sub := &Subscription{
		ID:                      id,
		TenantID:                tn.ID,
		ProcessorSubscriptionID: "sub_abc",
		ProcessorCustomerID:     "cus_abc",
		Email:                   "donor@example.com",
		AmountCents:             1200,
		Campaign:                "monthly-giving",
		PaymentMethodKind:       PaymentMethodCard,
		Last4:                   "4242",
		BillingDay:              15,
		Status:                  SubscriptionIncomplete,
	}
	if err := st.CreateSubscription(sub); err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	byProc, err := st.GetSubscriptionByProcessorID("sub_abc")
	if err != nil {
		t.Fatal(err)
	}
	if byProc == nil || byProc.ID != id {
		t.Fatalf("lookup by processor id returned %+v", byProc)
	}

	eventAt := time.Now().UTC().Truncate(time.Second)
	sub.Status = SubscriptionActive
	sub.LastEventAt = &eventAt
	if err := st.UpdateSubscription(sub); err != nil {
		t.Fatalf("UpdateSubscription: %v", err)
	}

	got, err := st.GetSubscription(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != SubscriptionActive {
		t.Errorf("status=%s, want active", got.Status)
	}
	if got.LastEventAt == nil || !got.LastEventAt.Equal(eventAt) {
		t.Errorf("processor event watermark not persisted: %v", got.LastEventAt)
	}

	counts, err := st.CountSubscriptionsByStatus()
	if err != nil {
		t.Fatal(err)
	}
	if counts[SubscriptionActive] != 1 {
		t.Errorf("active count=%d, want 1", counts[SubscriptionActive])
	}
}

func TestUpdateSubscriptionMissingRow(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateSubscription(&Subscription{ID: "s-MISSING", Status: SubscriptionActive})
	if err == nil {
		t.Fatal("expected error updating a missing subscription")
	}
}

func TestPriceUniqueness(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	product, err := st.InsertProduct(&Product{
		TenantID:           tn.ID,
		Campaign:           "reforestation",
		ProcessorProductID: "prod_1",
	})
	if err != nil {
		t.Fatalf("InsertProduct: %v", err)
	}

	first, err := st.InsertPrice(&Price{
		TenantID:         tn.ID,
		ProductID:        product.ProcessorProductID,
		AmountCents:      1000,
		Cadence:          "month",
		ProcessorPriceID: "price_1",
	})
	if err != nil {
		t.Fatalf("InsertPrice: %v", err)
	}

	// A concurrent writer losing the race must get the winner's row back.
	second, err := st.InsertPrice(&Price{
		TenantID:         tn.ID,
		ProductID:        product.ProcessorProductID,
		AmountCents:      1000,
		Cadence:          "month",
		ProcessorPriceID: "price_2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ProcessorPriceID != first.ProcessorPriceID {
		t.Errorf("duplicate insert returned %q, want winner %q", second.ProcessorPriceID, first.ProcessorPriceID)
	}

	found, err := st.FindPrice(tn.ID, product.ProcessorProductID, 1000, "month")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ProcessorPriceID != "price_1" {
		t.Errorf("FindPrice returned %+v", found)
	}
}

func TestProductCampaignUniqueness(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	first, err := st.InsertProduct(&Product{TenantID: tn.ID, Campaign: "gala", ProcessorProductID: "prod_a"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := st.InsertProduct(&Product{TenantID: tn.ID, Campaign: "gala", ProcessorProductID: "prod_b"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ProcessorProductID != first.ProcessorProductID {
		t.Errorf("duplicate campaign insert returned %q, want %q", second.ProcessorProductID, first.ProcessorProductID)
	}
}

func TestInsertProductPinnedOutsideCampaignNamespace(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	if _, err := st.InsertProduct(&Product{TenantID: tn.ID, Campaign: "gala", ProcessorProductID: "prod_a"}); err != nil {
		t.Fatal(err)
	}

	// A pinned mapping shares the campaign name but is its own row.
	pinned, err := st.InsertProduct(&Product{TenantID: tn.ID, Campaign: "gala", ProcessorProductID: "prod_pinned", Pinned: true})
	if err != nil {
		t.Fatal(err)
	}
	if pinned.ProcessorProductID != "prod_pinned" || !pinned.Pinned {
		t.Fatalf("pinned insert resolved to %+v", pinned)
	}

	// Re-inserting the same pin resolves by processor product id.
	again, err := st.InsertProduct(&Product{TenantID: tn.ID, Campaign: "gala", ProcessorProductID: "prod_pinned", Pinned: true})
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != pinned.ID {
		t.Errorf("duplicate pin returned %+v, want existing row", again)
	}

	// Campaign lookups never surface pinned rows.
	byCampaign, err := st.GetProductByCampaign(tn.ID, "gala")
	if err != nil {
		t.Fatal(err)
	}
	if byCampaign == nil || byCampaign.ProcessorProductID != "prod_a" {
		t.Errorf("campaign lookup returned %+v, want prod_a", byCampaign)
	}
}

func TestFailureRecords(t *testing.T) {
	st := newTestStore(t)
	tn := seedTenant(t, st)

	for _, code := range []string{"insufficient_funds", "account_closed"} {
		err := st.AppendFailureRecord(&FailureRecord{
			TenantID:       tn.ID,
			SubscriptionID: "s-ABC",
			InvoiceID:      "in_" + code,
			Code:           code,
			Cause:          code,
			Fatal:          code == "account_closed",
		})
		if err != nil {
			t.Fatalf("AppendFailureRecord: %v", err)
		}
	}

	records, err := st.ListFailureRecords("s-ABC")
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
}
