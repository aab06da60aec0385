package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fuelstation/backend/internal/cache"
	"fuelstation/backend/internal/domain"
	"fuelstation/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	reportCache cache.ReportCache
	cacheTTL    time.Duration
	now         func() time.Time
}

func New(repo store.Repository, reportCache cache.ReportCache, cacheTTL time.Duration) *Service {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:        repo,
		reportCache: reportCache,
		cacheTTL:    cacheTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FetchReport loads the report aggregate for (date, shift), read-through
// cached. Both parameters are required; a missing report is store.ErrNotFound.
func (s *Service) FetchReport(ctx context.Context, date string, shift string) (*domain.ReportAggregate, error) {
	date = strings.TrimSpace(date)
	shift = strings.TrimSpace(shift)
	if date == "" || shift == "" {
		return nil, store.Invalidf("Date and shift are required")
	}

	cacheKey := cache.Key(date, shift)
	if cached, hit, err := s.reportCache.Get(ctx, cacheKey); err != nil {
		log.Printf("[service] WARN: report cache get failed key=%s: %v", cacheKey, err)
	} else if hit {
		return cached, nil
	}

	agg, err := s.repo.FetchReport(ctx, date, shift)
	if err != nil {
		return nil, err
	}

	if err := s.reportCache.Set(ctx, cacheKey, agg, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: report cache set failed key=%s: %v", cacheKey, err)
	}

	return agg, nil
}

// SaveReport validates the submission, fills the key defaults (today's date,
// morning shift), runs the replace-children save and invalidates the cache
// entry for the key. Returns the parent report id.
func (s *Service) SaveReport(ctx context.Context, req domain.SaveReportRequest) (string, error) {
	req.Date = strings.TrimSpace(req.Date)
	req.Shift = strings.TrimSpace(req.Shift)
	if req.Date == "" {
		req.Date = s.now().Format("2006-01-02")
	}
	if req.Shift == "" {
		req.Shift = domain.ShiftMorning
	}

	children, err := buildChildren(req)
	if err != nil {
		return "", err
	}

	report := domain.DailyReport{
		Date:          req.Date,
		Shift:         req.Shift,
		Cashier:       strings.TrimSpace(req.Cashier),
		TotalSales:    req.TotalSales,
		TotalExpenses: req.TotalExpenses,
		CashOnHand:    req.CashOnHand,
		ActualCash:    req.ActualCash,
		CashVariance:  req.CashVariance,
		CoinsAmount:   req.CoinsAmount,
		CheckPayment:  req.CheckPayment,
		BankTransfer:  req.BankTransfer,
	}

	id, err := s.repo.SaveReport(ctx, report, children)
	if err != nil {
		return "", err
	}

	if err := s.reportCache.Invalidate(ctx, cache.Key(req.Date, req.Shift)); err != nil {
		log.Printf("[service] WARN: report cache invalidate failed date=%s shift=%s: %v", req.Date, req.Shift, err)
	}

	return id, nil
}

// buildChildren converts the submitted child inputs, rejecting structurally
// invalid entries before anything is written. Empty collections stay empty.
func buildChildren(req domain.SaveReportRequest) (domain.ReportChildren, error) {
	children := domain.ReportChildren{
		Rows:          make([]domain.FuelRow, 0, len(req.Rows)),
		Expenses:      make([]domain.ExpenseLine, 0, len(req.Expenses)),
		Denominations: make([]domain.DenominationCount, 0, len(req.Denominations)),
		Lubricants:    make([]domain.LubricantSale, 0, len(req.Lubricants)),
	}

	for i, row := range req.Rows {
		nozzle := strings.TrimSpace(row.Nozzle)
		product := strings.TrimSpace(row.Product)
		if nozzle == "" || product == "" {
			return domain.ReportChildren{}, store.Invalidf("row %d: nozzle and product are required", i+1)
		}
		children.Rows = append(children.Rows, domain.FuelRow{
			Nozzle:      nozzle,
			Product:     product,
			Opening:     row.Opening,
			Closing:     row.Closing,
			OpeningPeso: row.OpeningPeso,
			ClosingPeso: row.ClosingPeso,
		})
	}

	for i, line := range req.Expenses {
		description := strings.TrimSpace(line.Description)
		if description == "" {
			return domain.ReportChildren{}, store.Invalidf("expense %d: description is required", i+1)
		}
		children.Expenses = append(children.Expenses, domain.ExpenseLine{
			Description: description,
			Amount:      line.Amount,
		})
	}

	for i, denom := range req.Denominations {
		label := strings.TrimSpace(denom.Label)
		if label == "" {
			return domain.ReportChildren{}, store.Invalidf("denomination %d: label is required", i+1)
		}
		children.Denominations = append(children.Denominations, domain.DenominationCount{
			Value: denom.Value,
			Label: label,
			Count: denom.Count,
		})
	}

	for i, sale := range req.Lubricants {
		productName := strings.TrimSpace(sale.ProductName)
		if productName == "" {
			return domain.ReportChildren{}, store.Invalidf("lubricant %d: productName is required", i+1)
		}
		children.Lubricants = append(children.Lubricants, domain.LubricantSale{
			ProductID:   strings.TrimSpace(sale.ProductID),
			ProductName: productName,
			Quantity:    sale.Quantity,
			Price:       sale.Price,
			Amount:      sale.Amount,
		})
	}

	return children, nil
}

func (s *Service) ListLubricantProducts(ctx context.Context) ([]domain.LubricantProduct, error) {
	return s.repo.ListLubricantProducts(ctx)
}

// ReplaceLubricantProducts swaps the whole catalog for the uploaded entries.
// Entries with a blank name, an unparsable price or a non-positive price are
// skipped rather than failing the upload; the frontend sends prices as either
// JSON numbers or strings.
func (s *Service) ReplaceLubricantProducts(ctx context.Context, uploads []domain.LubricantProductUpload) (int, error) {
	products := make([]domain.LubricantProduct, 0, len(uploads))
	createdAt := s.now()
	for _, upload := range uploads {
		name := strings.TrimSpace(upload.Name)
		if name == "" {
			continue
		}
		price, ok := parsePrice(upload.Price)
		if !ok || price.Sign() <= 0 {
			continue
		}
		products = append(products, domain.LubricantProduct{
			Name:      name,
			Price:     price,
			CreatedAt: createdAt,
		})
	}

	if err := s.repo.ReplaceLubricantProducts(ctx, products); err != nil {
		return 0, err
	}
	return len(products), nil
}

func (s *Service) DeleteLubricantProduct(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return store.Invalidf("Product ID is required")
	}
	return s.repo.DeleteLubricantProduct(ctx, id)
}

// parsePrice accepts a JSON number or a quoted numeric string.
func parsePrice(raw []byte) (decimal.Decimal, bool) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Zero, false
	}
	text = strings.Trim(text, `"`)
	text = strings.TrimSpace(text)
	if text == "" {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, false
	}
	return price, true
}
