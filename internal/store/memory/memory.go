package memory

import (
	"context"
	"errors"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"fuelstation/backend/internal/domain"
	"fuelstation/backend/internal/store"
	"fuelstation/backend/internal/xid"
)

// Store is a mutex-guarded in-memory Repository used for dev mode and tests.
// Reports are keyed by date|shift, the same uniqueness the postgres schema
// enforces with its index.
type Store struct {
	mu              sync.RWMutex
	reportsByKey    map[string]*storedReport
	productsByID    map[string]domain.LubricantProduct
	usersByUsername map[string]domain.UserAccount

	// failAt aborts SaveReport just before the named step, leaving state
	// untouched. Used by tests to assert save atomicity.
	failAt string
}

type storedReport struct {
	parent   domain.DailyReport
	children domain.ReportChildren
}

// ErrFailpoint is returned by SaveReport when the configured failpoint fires.
var ErrFailpoint = errors.New("failpoint triggered")

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. Production runs use
// PostgreSQL (DATABASE_URL set) and never touch these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func New() *Store {
	return &Store{
		reportsByKey:    make(map[string]*storedReport),
		productsByID:    make(map[string]domain.LubricantProduct),
		usersByUsername: seedUsers(),
	}
}

// FailAt arms the save failpoint. Steps: "before-parent", "before-children".
// An empty step disarms it.
func (s *Store) FailAt(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = step
}

func (s *Store) FetchReport(_ context.Context, date string, shift string) (*domain.ReportAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.reportsByKey[reportKey(date, shift)]
	if !exists {
		return nil, store.ErrNotFound
	}

	agg := domain.ReportAggregate{
		DailyReport:   stored.parent,
		Rows:          cloneRows(stored.children.Rows),
		Expenses:      cloneExpenses(stored.children.Expenses),
		Denominations: cloneDenominations(stored.children.Denominations),
		Lubricants:    cloneLubricants(stored.children.Lubricants),
	}
	return &agg, nil
}

func (s *Store) SaveReport(_ context.Context, report domain.DailyReport, children domain.ReportChildren) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAt == "before-parent" {
		return "", ErrFailpoint
	}

	key := reportKey(report.Date, report.Shift)
	existing, exists := s.reportsByKey[key]
	if exists {
		report.ID = existing.parent.ID
		report.CreatedAt = existing.parent.CreatedAt
	} else {
		report.ID = xid.New("ds")
		report.CreatedAt = time.Now().UTC()
	}

	if s.failAt == "before-children" {
		return "", ErrFailpoint
	}

	next := &storedReport{
		parent: report,
		children: domain.ReportChildren{
			Rows:          cloneRows(children.Rows),
			Expenses:      cloneExpenses(children.Expenses),
			Denominations: cloneDenominations(children.Denominations),
			Lubricants:    cloneLubricants(children.Lubricants),
		},
	}
	for i := range next.children.Rows {
		next.children.Rows[i].ID = xid.New("row")
		next.children.Rows[i].ReportID = report.ID
	}
	for i := range next.children.Expenses {
		next.children.Expenses[i].ID = xid.New("exp")
		next.children.Expenses[i].ReportID = report.ID
	}
	for i := range next.children.Denominations {
		next.children.Denominations[i].ID = xid.New("den")
		next.children.Denominations[i].ReportID = report.ID
	}
	for i := range next.children.Lubricants {
		next.children.Lubricants[i].ID = xid.New("lub")
		next.children.Lubricants[i].ReportID = report.ID
	}

	// State mutates only here, in one assignment, so every earlier failure
	// leaves the previous report intact.
	s.reportsByKey[key] = next

	return report.ID, nil
}

func (s *Store) ListLubricantProducts(_ context.Context) ([]domain.LubricantProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.LubricantProduct, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.LubricantProduct) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.Name, b.Name)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return products, nil
}

func (s *Store) ReplaceLubricantProducts(_ context.Context, products []domain.LubricantProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]domain.LubricantProduct, len(products))
	for _, p := range products {
		if p.ID == "" {
			p.ID = xid.New("lp")
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		next[p.ID] = p
	}
	s.productsByID = next
	return nil
}

func (s *Store) DeleteLubricantProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.productsByID, id)
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalidf("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.Invalidf("username already exists")
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalidf("username and password are required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func reportKey(date string, shift string) string {
	return date + "|" + shift
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneRows(src []domain.FuelRow) []domain.FuelRow {
	dup := make([]domain.FuelRow, len(src))
	copy(dup, src)
	return dup
}

func cloneExpenses(src []domain.ExpenseLine) []domain.ExpenseLine {
	dup := make([]domain.ExpenseLine, len(src))
	copy(dup, src)
	return dup
}

func cloneDenominations(src []domain.DenominationCount) []domain.DenominationCount {
	dup := make([]domain.DenominationCount, len(src))
	copy(dup, src)
	return dup
}

func cloneLubricants(src []domain.LubricantSale) []domain.LubricantSale {
	dup := make([]domain.LubricantSale, len(src))
	copy(dup, src)
	return dup
}
