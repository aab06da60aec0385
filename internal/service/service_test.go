package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuelstation/backend/internal/domain"
	"fuelstation/backend/internal/store"
	"fuelstation/backend/internal/store/memory"
)

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string]*domain.ReportAggregate
	sets        int
	gets        int
	invalidates int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*domain.ReportAggregate)}
}

func (c *fakeCache) Get(_ context.Context, key string) (*domain.ReportAggregate, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	agg, ok := c.entries[key]
	return agg, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value *domain.ReportAggregate, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[key] = value
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidates++
	delete(c.entries, key)
	return nil
}

func newTestService(t *testing.T) (*Service, *memory.Store, *fakeCache) {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "test-admin-pw")
	t.Setenv("SEED_CASHIER_PASSWORD", "test-cashier-pw")
	repo := memory.New()
	reportCache := newFakeCache()
	return New(repo, reportCache, 30*time.Second), repo, reportCache
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func sampleSaveRequest() domain.SaveReportRequest {
	return domain.SaveReportRequest{
		Date:          "2024-01-15",
		Shift:         domain.ShiftMorning,
		Cashier:       "Maria",
		TotalSales:    dec("15230.50"),
		TotalExpenses: dec("1200.00"),
		CashOnHand:    dec("14030.50"),
		ActualCash:    dec("14000.00"),
		CashVariance:  dec("-30.50"),
		CoinsAmount:   dec("150.25"),
		CheckPayment:  dec("0"),
		BankTransfer:  dec("2500.00"),
		Rows: []domain.FuelRowInput{
			{Nozzle: "1", Product: "Diesel", Opening: dec("1000.123"), Closing: dec("1450.456"), OpeningPeso: dec("50000.00"), ClosingPeso: dec("72522.50")},
			{Nozzle: "2", Product: "Premium", Opening: dec("800.000"), Closing: dec("950.750"), OpeningPeso: dec("40000.00"), ClosingPeso: dec("47537.50")},
		},
		Expenses: []domain.ExpenseInput{
			{Description: "Ice", Amount: dec("200.00")},
			{Description: "Snacks for crew", Amount: dec("1000.00")},
		},
		Denominations: []domain.DenominationInput{
			{Value: dec("1000"), Label: "1000", Count: 10},
			{Value: dec("500"), Label: "500", Count: 8},
		},
		Lubricants: []domain.LubricantSaleInput{
			{ProductName: "2T Oil", Quantity: 2, Price: dec("85.00"), Amount: dec("170.00")},
		},
	}
}

func TestFetchReportRequiresDateAndShift(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, tc := range []struct {
		name  string
		date  string
		shift string
	}{
		{"both missing", "", ""},
		{"missing shift", "2024-01-15", ""},
		{"missing date", "", domain.ShiftMorning},
		{"whitespace only", "  ", "  "},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.FetchReport(context.Background(), tc.date, tc.shift)
			if !store.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if err.Error() != "Date and shift are required" {
				t.Fatalf("unexpected message: %q", err.Error())
			}
		})
	}
}

func TestFetchReportNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.FetchReport(context.Background(), "2024-01-15", domain.ShiftMorning)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveThenFetchRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := sampleSaveRequest()

	id, err := svc.SaveReport(context.Background(), req)
	if err != nil {
		t.Fatalf("SaveReport: %v", err)
	}
	if id == "" {
		t.Fatal("expected non-empty report id")
	}

	agg, err := svc.FetchReport(context.Background(), req.Date, req.Shift)
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}

	if agg.ID != id {
		t.Fatalf("id mismatch: save returned %q, fetch returned %q", id, agg.ID)
	}
	if agg.Date != req.Date || agg.Shift != req.Shift {
		t.Fatalf("key mismatch: got (%s, %s)", agg.Date, agg.Shift)
	}
	if agg.Cashier != "Maria" {
		t.Fatalf("cashier mismatch: %q", agg.Cashier)
	}
	if !agg.TotalSales.Equal(req.TotalSales) {
		t.Fatalf("totalSales mismatch: got %s want %s", agg.TotalSales, req.TotalSales)
	}
	if !agg.CashVariance.Equal(dec("-30.50")) {
		t.Fatalf("cashVariance mismatch: got %s", agg.CashVariance)
	}
	if len(agg.Rows) != 2 || len(agg.Expenses) != 2 || len(agg.Denominations) != 2 || len(agg.Lubricants) != 1 {
		t.Fatalf("child counts: rows=%d expenses=%d denominations=%d lubricants=%d",
			len(agg.Rows), len(agg.Expenses), len(agg.Denominations), len(agg.Lubricants))
	}
	for _, row := range agg.Rows {
		if row.ID == "" || row.ReportID != id {
			t.Fatalf("row not linked to parent: %+v", row)
		}
	}
	if agg.Lubricants[0].ProductName != "2T Oil" || !agg.Lubricants[0].Amount.Equal(dec("170.00")) {
		t.Fatalf("lubricant mismatch: %+v", agg.Lubricants[0])
	}
}

func TestSaveReplacesExistingReport(t *testing.T) {
	svc, _, _ := newTestService(t)
	first := sampleSaveRequest()

	firstID, err := svc.SaveReport(context.Background(), first)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	second := sampleSaveRequest()
	second.TotalSales = dec("9999.99")
	second.Rows = second.Rows[:1]
	second.Expenses = nil
	second.Denominations = []domain.DenominationInput{
		{Value: dec("100"), Label: "100", Count: 50},
	}
	second.Lubricants = nil

	secondID, err := svc.SaveReport(context.Background(), second)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if secondID != firstID {
		t.Fatalf("resave must keep the parent id: first=%q second=%q", firstID, secondID)
	}

	agg, err := svc.FetchReport(context.Background(), second.Date, second.Shift)
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if !agg.TotalSales.Equal(dec("9999.99")) {
		t.Fatalf("scalar not replaced: %s", agg.TotalSales)
	}
	if len(agg.Rows) != 1 {
		t.Fatalf("expected 1 row after replacement, got %d", len(agg.Rows))
	}
	if len(agg.Expenses) != 0 {
		t.Fatalf("expected expenses cleared, got %d", len(agg.Expenses))
	}
	if len(agg.Denominations) != 1 || agg.Denominations[0].Count != 50 {
		t.Fatalf("denominations not replaced: %+v", agg.Denominations)
	}
	if len(agg.Lubricants) != 0 {
		t.Fatalf("expected lubricants cleared, got %d", len(agg.Lubricants))
	}
}

func TestSaveIsIdempotentOnChildCounts(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := sampleSaveRequest()

	for i := 0; i < 3; i++ {
		if _, err := svc.SaveReport(context.Background(), req); err != nil {
			t.Fatalf("save %d: %v", i+1, err)
		}
	}

	agg, err := svc.FetchReport(context.Background(), req.Date, req.Shift)
	if err != nil {
		t.Fatalf("FetchReport: %v", err)
	}
	if len(agg.Rows) != len(req.Rows) {
		t.Fatalf("rows accumulated across saves: got %d want %d", len(agg.Rows), len(req.Rows))
	}
	if len(agg.Expenses) != len(req.Expenses) {
		t.Fatalf("expenses accumulated across saves: got %d want %d", len(agg.Expenses), len(req.Expenses))
	}
}

func TestSaveDefaultsDateAndShift(t *testing.T) {
	svc, _, _ := newTestService(t)
	req := sampleSaveRequest()
	req.Date = ""
	req.Shift = ""

	if _, err := svc.SaveReport(context.Background(), req); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	today := time.Now().UTC().Format("2006-01-02")
	agg, err := svc.FetchReport(context.Background(), today, domain.ShiftMorning)
	if err != nil {
		t.Fatalf("defaulted report not found under (%s, %s): %v", today, domain.ShiftMorning, err)
	}
	if agg.Shift != domain.ShiftMorning {
		t.Fatalf("shift not defaulted: %q", agg.Shift)
	}
}

func TestSaveMorningAndEveningAreIndependent(t *testing.T) {
	svc, _, _ := newTestService(t)

	morning := sampleSaveRequest()
	evening := sampleSaveRequest()
	evening.Shift = domain.ShiftEvening
	evening.TotalSales = dec("8000.00")
	evening.Rows = evening.Rows[:1]

	morningID, err := svc.SaveReport(context.Background(), morning)
	if err != nil {
		t.Fatalf("morning save: %v", err)
	}
	eveningID, err := svc.SaveReport(context.Background(), evening)
	if err != nil {
		t.Fatalf("evening save: %v", err)
	}
	if morningID == eveningID {
		t.Fatal("morning and evening reports must be distinct records")
	}

	gotMorning, err := svc.FetchReport(context.Background(), morning.Date, domain.ShiftMorning)
	if err != nil {
		t.Fatalf("fetch morning: %v", err)
	}
	gotEvening, err := svc.FetchReport(context.Background(), evening.Date, domain.ShiftEvening)
	if err != nil {
		t.Fatalf("fetch evening: %v", err)
	}
	if len(gotMorning.Rows) != 2 || len(gotEvening.Rows) != 1 {
		t.Fatalf("shifts bled into each other: morning=%d evening=%d rows", len(gotMorning.Rows), len(gotEvening.Rows))
	}
}

func TestSaveRejectsInvalidChildren(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, tc := range []struct {
		name   string
		mutate func(*domain.SaveReportRequest)
	}{
		{"row without nozzle", func(req *domain.SaveReportRequest) {
			req.Rows[0].Nozzle = " "
		}},
		{"row without product", func(req *domain.SaveReportRequest) {
			req.Rows[1].Product = ""
		}},
		{"expense without description", func(req *domain.SaveReportRequest) {
			req.Expenses[0].Description = ""
		}},
		{"denomination without label", func(req *domain.SaveReportRequest) {
			req.Denominations[0].Label = ""
		}},
		{"lubricant without product name", func(req *domain.SaveReportRequest) {
			req.Lubricants[0].ProductName = "  "
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := sampleSaveRequest()
			tc.mutate(&req)

			_, err := svc.SaveReport(context.Background(), req)
			if !store.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}

			// A rejected save must not create the report.
			_, err = svc.FetchReport(context.Background(), req.Date, req.Shift)
			if !errors.Is(err, store.ErrNotFound) {
				t.Fatalf("partial write after rejected save: %v", err)
			}
		})
	}
}

func TestSaveAtomicityOnStoreFailure(t *testing.T) {
	svc, repo, _ := newTestService(t)
	req := sampleSaveRequest()

	if _, err := svc.SaveReport(context.Background(), req); err != nil {
		t.Fatalf("initial save: %v", err)
	}

	before, err := svc.FetchReport(context.Background(), req.Date, req.Shift)
	if err != nil {
		t.Fatalf("fetch before failure: %v", err)
	}

	repo.FailAt("before-children")
	defer repo.FailAt("")

	update := sampleSaveRequest()
	update.TotalSales = dec("1.00")
	update.Rows = nil
	if _, err := svc.SaveReport(context.Background(), update); !errors.Is(err, memory.ErrFailpoint) {
		t.Fatalf("expected failpoint error, got %v", err)
	}

	repo.FailAt("")
	after, err := svc.FetchReport(context.Background(), req.Date, req.Shift)
	if err != nil {
		t.Fatalf("fetch after failure: %v", err)
	}
	if !after.TotalSales.Equal(before.TotalSales) {
		t.Fatalf("failed save mutated scalars: before=%s after=%s", before.TotalSales, after.TotalSales)
	}
	if len(after.Rows) != len(before.Rows) {
		t.Fatalf("failed save mutated children: before=%d after=%d rows", len(before.Rows), len(after.Rows))
	}
}

func TestFetchReportCachesAndSaveInvalidates(t *testing.T) {
	svc, _, reportCache := newTestService(t)
	req := sampleSaveRequest()

	if _, err := svc.SaveReport(context.Background(), req); err != nil {
		t.Fatalf("SaveReport: %v", err)
	}

	if _, err := svc.FetchReport(context.Background(), req.Date, req.Shift); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if reportCache.sets != 1 {
		t.Fatalf("expected one cache set, got %d", reportCache.sets)
	}

	// Second fetch must be served from cache.
	if _, err := svc.FetchReport(context.Background(), req.Date, req.Shift); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if reportCache.sets != 1 {
		t.Fatalf("cache miss on warm key: sets=%d", reportCache.sets)
	}

	update := sampleSaveRequest()
	update.TotalSales = dec("500.00")
	if _, err := svc.SaveReport(context.Background(), update); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if reportCache.invalidates < 2 {
		t.Fatalf("save did not invalidate cache: invalidates=%d", reportCache.invalidates)
	}

	agg, err := svc.FetchReport(context.Background(), req.Date, req.Shift)
	if err != nil {
		t.Fatalf("fetch after resave: %v", err)
	}
	if !agg.TotalSales.Equal(dec("500.00")) {
		t.Fatalf("stale report served after resave: %s", agg.TotalSales)
	}
}

func TestReplaceLubricantProducts(t *testing.T) {
	svc, _, _ := newTestService(t)

	count, err := svc.ReplaceLubricantProducts(context.Background(), []domain.LubricantProductUpload{
		{Name: "2T Oil", Price: []byte(`85.50`)},
		{Name: "Gear Oil", Price: []byte(`"120.00"`)},
		{Name: "", Price: []byte(`99`)},
		{Name: "Broken", Price: []byte(`"abc"`)},
		{Name: "Free", Price: []byte(`0`)},
		{Name: "Null price", Price: nil},
	})
	if err != nil {
		t.Fatalf("ReplaceLubricantProducts: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 accepted products, got %d", count)
	}

	products, err := svc.ListLubricantProducts(context.Background())
	if err != nil {
		t.Fatalf("ListLubricantProducts: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("expected 2 products, got %d", len(products))
	}
	byName := map[string]domain.LubricantProduct{}
	for _, p := range products {
		if p.ID == "" {
			t.Fatalf("product missing id: %+v", p)
		}
		byName[p.Name] = p
	}
	if !byName["2T Oil"].Price.Equal(dec("85.50")) {
		t.Fatalf("numeric price mishandled: %s", byName["2T Oil"].Price)
	}
	if !byName["Gear Oil"].Price.Equal(dec("120.00")) {
		t.Fatalf("string price mishandled: %s", byName["Gear Oil"].Price)
	}
}

func TestReplaceLubricantProductsSwapsWholeCatalog(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.ReplaceLubricantProducts(context.Background(), []domain.LubricantProductUpload{
		{Name: "Old A", Price: []byte(`10`)},
		{Name: "Old B", Price: []byte(`20`)},
		{Name: "Old C", Price: []byte(`30`)},
	}); err != nil {
		t.Fatalf("first upload: %v", err)
	}

	if _, err := svc.ReplaceLubricantProducts(context.Background(), []domain.LubricantProductUpload{
		{Name: "New Only", Price: []byte(`55`)},
	}); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	products, err := svc.ListLubricantProducts(context.Background())
	if err != nil {
		t.Fatalf("ListLubricantProducts: %v", err)
	}
	if len(products) != 1 || products[0].Name != "New Only" {
		t.Fatalf("catalog not replaced: %+v", products)
	}
}

func TestDeleteLubricantProduct(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.ReplaceLubricantProducts(context.Background(), []domain.LubricantProductUpload{
		{Name: "Keep", Price: []byte(`10`)},
		{Name: "Drop", Price: []byte(`20`)},
	}); err != nil {
		t.Fatalf("upload: %v", err)
	}

	products, err := svc.ListLubricantProducts(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var dropID string
	for _, p := range products {
		if p.Name == "Drop" {
			dropID = p.ID
		}
	}
	if dropID == "" {
		t.Fatal("uploaded product not found")
	}

	if err := svc.DeleteLubricantProduct(context.Background(), dropID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	remaining, err := svc.ListLubricantProducts(context.Background())
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Name != "Keep" {
		t.Fatalf("unexpected catalog after delete: %+v", remaining)
	}

	// Deleting an absent id is a no-op, not an error.
	if err := svc.DeleteLubricantProduct(context.Background(), dropID); err != nil {
		t.Fatalf("second delete: %v", err)
	}

	if err := svc.DeleteLubricantProduct(context.Background(), ""); !store.IsValidation(err) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
}
