package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
	"fournil/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	clients         map[string]domain.Client
	programsByDate  map[string]domain.ProductionProgram
	returnsByKey    map[string]domain.ClientReturn
	invoicesByID    map[string]domain.Invoice
	billingConfig   *domain.BillingConfig
	stockLedger     []domain.StockTransaction
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning. These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
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

// New returns an empty store without users or catalog.
func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		clients:         make(map[string]domain.Client),
		programsByDate:  make(map[string]domain.ProductionProgram),
		returnsByKey:    make(map[string]domain.ClientReturn),
		invoicesByID:    make(map[string]domain.Invoice),
		stockLedger:     make([]domain.StockTransaction, 0, 128),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	d := decimal.RequireFromString
	products := []domain.Product{
		{ID: "baguette", Name: "Baguette tradition", ClientPrice: d("1.10"), ShopPrice: d("0.95"), Active: true, Recipe: []domain.RecipeEntry{
			{MaterialID: "flour-t65", QuantityPerUnit: d("0.25")},
			{MaterialID: "yeast", QuantityPerUnit: d("0.004")},
			{MaterialID: "salt", QuantityPerUnit: d("0.005")},
		}},
		{ID: "croissant", Name: "Croissant pur beurre", ClientPrice: d("1.30"), ShopPrice: d("1.10"), Active: true, Recipe: []domain.RecipeEntry{
			{MaterialID: "flour-t45", QuantityPerUnit: d("0.055")},
			{MaterialID: "butter", QuantityPerUnit: d("0.028")},
			{MaterialID: "sugar", QuantityPerUnit: d("0.006")},
		}},
		{ID: "pain-choc", Name: "Pain au chocolat", ClientPrice: d("1.40"), ShopPrice: d("1.20"), Active: true, Recipe: []domain.RecipeEntry{
			{MaterialID: "flour-t45", QuantityPerUnit: d("0.055")},
			{MaterialID: "butter", QuantityPerUnit: d("0.028")},
			{MaterialID: "chocolate-stick", QuantityPerUnit: d("2")},
		}},
		{ID: "campagne", Name: "Pain de campagne 500g", ClientPrice: d("3.20"), ShopPrice: d("2.80"), Active: true, Recipe: []domain.RecipeEntry{
			{MaterialID: "flour-t80", QuantityPerUnit: d("0.32")},
			{MaterialID: "sourdough", QuantityPerUnit: d("0.06")},
			{MaterialID: "salt", QuantityPerUnit: d("0.006")},
		}},
		{ID: "flan", Name: "Flan patissier (part)", ClientPrice: d("2.60"), ShopPrice: d("2.20"), Active: true},
	}
	clients := []domain.Client{
		{ID: "hotel-port", Name: "Hotel du Port", Address: "2 quai des Pecheurs, 56100 Lorient", Email: "compta@hotelduport.example", PriceTier: domain.PriceTierClient, Active: true,
			DefaultOrder: []domain.DefaultOrderLine{
				{ProductID: "baguette", Split: domain.RunSplit{A: 20, B: 10, C: 0}},
				{ProductID: "croissant", Split: domain.RunSplit{A: 40, B: 0, C: 0}},
			}},
		{ID: "cafe-halles", Name: "Cafe des Halles", Address: "8 place des Halles, 56100 Lorient", PriceTier: domain.PriceTierClient, Active: true,
			DefaultOrder: []domain.DefaultOrderLine{
				{ProductID: "croissant", Split: domain.RunSplit{A: 15, B: 5, C: 0}},
				{ProductID: "pain-choc", Split: domain.RunSplit{A: 15, B: 5, C: 0}},
			}},
		{ID: "epicerie-moulin", Name: "Epicerie du Moulin", Address: "14 rue du Moulin, 56270 Ploemeur", PriceTier: domain.PriceTierShop, Active: true},
	}

	s := New()
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, c := range clients {
		s.clients[c.ID] = c
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		p.Recipe = slices.Clone(p.Recipe)
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.ID, b.ID)
	})
	return products, nil
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]domain.Client, 0, len(s.clients))
	for _, c := range s.clients {
		c.DefaultOrder = slices.Clone(c.DefaultOrder)
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b domain.Client) int {
		return strings.Compare(a.ID, b.ID)
	})
	return clients, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return fmt.Errorf("%w: product id is required", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	product.Recipe = slices.Clone(product.Recipe)
	s.products[product.ID] = product
	return nil
}

func (s *Store) UpsertClient(_ context.Context, client domain.Client) error {
	if strings.TrimSpace(client.ID) == "" {
		return fmt.Errorf("%w: client id is required", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	client.DefaultOrder = slices.Clone(client.DefaultOrder)
	s.clients[client.ID] = client
	return nil
}

func (s *Store) GetProgram(_ context.Context, date string) (*domain.ProductionProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	program, ok := s.programsByDate[date]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := program.Clone()
	return &out, nil
}

func (s *Store) SaveProgram(_ context.Context, program domain.ProductionProgram) (*domain.ProductionProgram, error) {
	if strings.TrimSpace(program.Date) == "" {
		return nil, fmt.Errorf("%w: program date is required", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.programsByDate[program.Date]; ok {
		program.ID = existing.ID
		program.CreatedAt = existing.CreatedAt
		program.Revision = existing.Revision + 1
	} else {
		if program.ID == "" {
			program.ID = xid.New("prog")
		}
		if program.CreatedAt.IsZero() {
			program.CreatedAt = time.Now().UTC()
		}
		program.Revision = 1
	}
	s.programsByDate[program.Date] = program.Clone()
	out := program.Clone()
	return &out, nil
}

func (s *Store) ListPrograms(_ context.Context, from string, to string) ([]domain.ProductionProgram, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductionProgram, 0, 8)
	for date, program := range s.programsByDate {
		if date < from || date > to {
			continue
		}
		result = append(result, program.Clone())
	}
	slices.SortFunc(result, func(a, b domain.ProductionProgram) int {
		return strings.Compare(a.Date, b.Date)
	})
	return result, nil
}

func (s *Store) GetReturn(_ context.Context, date string, clientID string) (*domain.ClientReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returnsByKey[returnKey(date, clientID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneReturn(ret)
	return &out, nil
}

func (s *Store) SaveReturn(_ context.Context, ret domain.ClientReturn) (*domain.ClientReturn, error) {
	if strings.TrimSpace(ret.DeliveryDate) == "" || strings.TrimSpace(ret.ClientID) == "" {
		return nil, fmt.Errorf("%w: return needs a date and a client", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := returnKey(ret.DeliveryDate, ret.ClientID)
	if existing, ok := s.returnsByKey[key]; ok {
		ret.ID = existing.ID
	} else if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.UpdatedAt.IsZero() {
		ret.UpdatedAt = time.Now().UTC()
	}
	s.returnsByKey[key] = cloneReturn(ret)
	out := cloneReturn(ret)
	return &out, nil
}

func (s *Store) ListReturns(_ context.Context, date string) ([]domain.ClientReturn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ClientReturn, 0, 8)
	for _, ret := range s.returnsByKey {
		if ret.DeliveryDate == date {
			result = append(result, cloneReturn(ret))
		}
	}
	slices.SortFunc(result, func(a, b domain.ClientReturn) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return result, nil
}

func (s *Store) GetInvoice(_ context.Context, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (s *Store) SaveInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if strings.TrimSpace(invoice.ID) == "" || strings.TrimSpace(invoice.ClientID) == "" {
		return nil, fmt.Errorf("%w: invoice needs an id and a client", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.invoicesByID[invoice.ID]; ok && existing.Number != "" && invoice.Number != existing.Number {
		return nil, fmt.Errorf("%w: invoice number cannot change", store.ErrConflict)
	}
	s.invoicesByID[invoice.ID] = cloneInvoice(invoice)
	out := cloneInvoice(invoice)
	return &out, nil
}

func (s *Store) ListInvoicesByDate(_ context.Context, date string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 8)
	for _, inv := range s.invoicesByID {
		if inv.DeliveryDate == date {
			result = append(result, cloneInvoice(inv))
		}
	}
	sortInvoices(result)
	return result, nil
}

func (s *Store) ListInvoices(_ context.Context, from string, to string, status string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 32)
	for _, inv := range s.invoicesByID {
		if inv.DeliveryDate < from || inv.DeliveryDate > to {
			continue
		}
		if status != "" && string(inv.Status) != status {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	sortInvoices(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetBillingConfig(_ context.Context) (*domain.BillingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.billingConfig == nil {
		return nil, store.ErrNotFound
	}
	cfg := *s.billingConfig
	return &cfg, nil
}

// SaveBillingConfig never moves the invoice counter backwards.
func (s *Store) SaveBillingConfig(_ context.Context, cfg domain.BillingConfig) (*domain.BillingConfig, error) {
	if cfg.NextInvoiceNumber < 1 {
		return nil, fmt.Errorf("%w: next invoice number must be positive", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}
	if s.billingConfig != nil && s.billingConfig.NextInvoiceNumber > cfg.NextInvoiceNumber {
		cfg.NextInvoiceNumber = s.billingConfig.NextInvoiceNumber
	}
	stored := cfg
	s.billingConfig = &stored
	return &cfg, nil
}

// NextInvoiceNumber hands out the current counter and advances it.
func (s *Store) NextInvoiceNumber(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.billingConfig == nil {
		return 0, store.ErrNotFound
	}
	n := s.billingConfig.NextInvoiceNumber
	s.billingConfig.NextInvoiceNumber++
	s.billingConfig.UpdatedAt = time.Now().UTC()
	return n, nil
}

func (s *Store) AppendStockTransaction(_ context.Context, tx domain.StockTransaction) error {
	if strings.TrimSpace(tx.MaterialID) == "" {
		return fmt.Errorf("%w: material id is required", store.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("stk")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.stockLedger = append(s.stockLedger, tx)
	return nil
}

func (s *Store) ListStockTransactions(_ context.Context, programDate string, limit int) ([]domain.StockTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockTransaction, 0, 32)
	for i := len(s.stockLedger) - 1; i >= 0; i-- {
		tx := s.stockLedger[i]
		if programDate != "" && tx.ProgramDate != programDate {
			continue
		}
		result = append(result, tx)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
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
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func returnKey(date string, clientID string) string {
	return date + "|" + clientID
}

func sortInvoices(invoices []domain.Invoice) {
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		if c := strings.Compare(a.DeliveryDate, b.DeliveryDate); c != 0 {
			return c
		}
		if c := strings.Compare(a.ClientID, b.ClientID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func cloneReturn(src domain.ClientReturn) domain.ClientReturn {
	out := src
	out.Lines = slices.Clone(src.Lines)
	return out
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	out := src
	out.Lines = slices.Clone(src.Lines)
	out.ValidatedAt = cloneTime(src.ValidatedAt)
	out.SentAt = cloneTime(src.SentAt)
	out.PaidAt = cloneTime(src.PaidAt)
	out.CancelledAt = cloneTime(src.CancelledAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
