package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Amounts serialize as JSON numbers, not quoted strings; the frontend does
// arithmetic on them directly.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// Shift labels used to key a report together with its calendar date.
const (
	ShiftMorning = "Morning"
	ShiftEvening = "Evening"
)

// DailyReport is the parent record of one shift's sales report. A station
// keeps at most one report per (Date, Shift) pair; saving again replaces the
// report and all of its child rows.
type DailyReport struct {
	ID            string          `json:"id"`
	Date          string          `json:"date"`
	Shift         string          `json:"shift"`
	Cashier       string          `json:"cashier,omitempty"`
	TotalSales    decimal.Decimal `json:"totalSales"`
	TotalExpenses decimal.Decimal `json:"totalExpenses"`
	CashOnHand    decimal.Decimal `json:"cashOnHand"`
	ActualCash    decimal.Decimal `json:"actualCash"`
	CashVariance  decimal.Decimal `json:"cashVariance"`
	CoinsAmount   decimal.Decimal `json:"coinsAmount"`
	CheckPayment  decimal.Decimal `json:"checkPayment"`
	BankTransfer  decimal.Decimal `json:"bankTransfer"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// FuelRow is one nozzle's meter readings for the shift.
type FuelRow struct {
	ID          string          `json:"id"`
	ReportID    string          `json:"dailySalesId"`
	Nozzle      string          `json:"nozzle"`
	Product     string          `json:"product"`
	Opening     decimal.Decimal `json:"opening"`
	Closing     decimal.Decimal `json:"closing"`
	OpeningPeso decimal.Decimal `json:"openingPeso"`
	ClosingPeso decimal.Decimal `json:"closingPeso"`
}

// ExpenseLine is one cash expense paid out of the drawer during the shift.
type ExpenseLine struct {
	ID          string          `json:"id"`
	ReportID    string          `json:"dailySalesId"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// DenominationCount records how many notes or coins of one face value were
// counted during cash reconciliation.
type DenominationCount struct {
	ID       string          `json:"id"`
	ReportID string          `json:"dailySalesId"`
	Value    decimal.Decimal `json:"value"`
	Label    string          `json:"label"`
	Count    int             `json:"count"`
}

// LubricantSale is one lubricant line item sold during the shift. ProductID
// optionally references a LubricantProduct from the catalog.
type LubricantSale struct {
	ID          string          `json:"id"`
	ReportID    string          `json:"dailySalesId"`
	ProductID   string          `json:"productId,omitempty"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
}

// ReportChildren bundles the owned child collections of one DailyReport.
// Children live and die with their parent: a save replaces all of them.
type ReportChildren struct {
	Rows          []FuelRow
	Expenses      []ExpenseLine
	Denominations []DenominationCount
	Lubricants    []LubricantSale
}

// ReportAggregate is the parent merged with its child collections, the unit
// returned to callers. Child ordering is not guaranteed.
type ReportAggregate struct {
	DailyReport
	Rows          []FuelRow           `json:"rows"`
	Expenses      []ExpenseLine       `json:"expenses"`
	Denominations []DenominationCount `json:"denominations"`
	Lubricants    []LubricantSale     `json:"lubricants"`
}

// LubricantProduct is an independent catalog entry (name and unit price).
type LubricantProduct struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"createdAt"`
}

type FuelRowInput struct {
	Nozzle      string          `json:"nozzle"`
	Product     string          `json:"product"`
	Opening     decimal.Decimal `json:"opening"`
	Closing     decimal.Decimal `json:"closing"`
	OpeningPeso decimal.Decimal `json:"openingPeso"`
	ClosingPeso decimal.Decimal `json:"closingPeso"`
}

type ExpenseInput struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type DenominationInput struct {
	Value decimal.Decimal `json:"value"`
	Label string          `json:"label"`
	Count int             `json:"count"`
}

type LubricantSaleInput struct {
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
}

// SaveReportRequest is the full desired state of one report. Every save
// resubmits the complete child collections; there is no partial update.
// Absent numeric fields decode to decimal zero, never null.
type SaveReportRequest struct {
	Date          string               `json:"date"`
	Shift         string               `json:"shift"`
	Cashier       string               `json:"cashier"`
	TotalSales    decimal.Decimal      `json:"totalSales"`
	TotalExpenses decimal.Decimal      `json:"totalExpenses"`
	CashOnHand    decimal.Decimal      `json:"cashOnHand"`
	ActualCash    decimal.Decimal      `json:"actualCash"`
	CashVariance  decimal.Decimal      `json:"cashVariance"`
	CoinsAmount   decimal.Decimal      `json:"coinsAmount"`
	CheckPayment  decimal.Decimal      `json:"checkPayment"`
	BankTransfer  decimal.Decimal      `json:"bankTransfer"`
	Rows          []FuelRowInput       `json:"rows"`
	Expenses      []ExpenseInput       `json:"expenses"`
	Denominations []DenominationInput  `json:"denominations"`
	Lubricants    []LubricantSaleInput `json:"lubricants"`
}

// LubricantProductUpload is one entry of a catalog upload. Price is kept raw
// because the frontend submits it as either a JSON number or a string; entries
// that fail to parse are skipped rather than failing the upload.
type LubricantProductUpload struct {
	Name  string          `json:"name"`
	Price json.RawMessage `json:"price"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
