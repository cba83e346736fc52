package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/service"
	"fournil/backend/internal/store"
)

const (
	roleAdmin = "admin"
	roleStaff = "staff"

	tokenIssuer      = "fournil"
	userStoreTimeout = 3 * time.Second
)

// permission names one group of bakery operations a token may perform. The
// service still enforces the admin checks on its side.
type permission string

const (
	permRead       permission = "read"       // catalog, programs, returns, invoices, stream
	permPlan       permission = "plan"       // orders, shop allocations, actual produced
	permProduce    permission = "produce"    // send and confirm a program
	permReturns    permission = "returns"    // client returns
	permInvoices   permission = "invoices"   // reconcile, send, pay
	permRegularize permission = "regularize" // re-run stock consumption
	permBilling    permission = "billing"    // billing config, cancel, tax rate
	permCatalog    permission = "catalog"    // catalog import
	permStaff      permission = "staff"
	permAudit      permission = "audit"
)

var staffPermissions = []permission{permRead, permPlan, permProduce, permReturns, permInvoices}

var rolePermissions = map[string][]permission{
	roleStaff: staffPermissions,
	roleAdmin: append(slices.Clone(staffPermissions), permRegularize, permBilling, permCatalog, permStaff, permAudit),
}

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errLoginThrottled     = errors.New("too many login attempts")
	errPINRejected        = errors.New("invalid manager pin")
	errPINThrottled       = errors.New("too many manager pin attempts")
)

// principal is the authenticated caller of a request.
type principal struct {
	actor domain.Actor
	perms []permission
}

func (p principal) can(perm permission) bool {
	return slices.Contains(p.perms, perm)
}

type fournilClaims struct {
	jwtlib.RegisteredClaims
	Role  string       `json:"role"`
	Perms []permission `json:"perms"`
}

// UserStore persists bakery accounts. Passwords are stored as bcrypt hashes.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
}

type account struct {
	hash    string
	role    string
	active  bool
	created time.Time
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	pinHash     string
	pinAttempts *throttle
	logins      *throttle

	userStore UserStore
	mu        sync.RWMutex
	accounts  map[string]account
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		now:         time.Now,
		pinAttempts: newThrottle(8, time.Minute),
		logins:      newThrottle(5, time.Minute),
		userStore:   userStore,
		accounts:    make(map[string]account),
	}
	// An empty PIN leaves regularization locked.
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := hashPassword(pin); err == nil {
			a.pinHash = hash
		} else {
			log.Printf("[auth] WARN: manager pin not usable: %v", err)
		}
	}
	a.refreshUsers(context.Background())
	return a
}

// Login checks the password of username and issues a token carrying the
// permissions of the account's role. Attempts are throttled per client.
func (a *AuthManager) Login(ctx context.Context, client string, req domain.LoginRequest) (domain.LoginResponse, error) {
	if !a.logins.admit("login:" + client) {
		return domain.LoginResponse{}, errLoginThrottled
	}
	a.refreshUsers(ctx)

	username := normalizeUsername(req.Username)
	a.mu.RLock()
	acct, ok := a.accounts[username]
	a.mu.RUnlock()
	if !ok || !verifyPassword(acct.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acct.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	perms := rolePermissions[acct.role]
	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, acct.role, perms, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.role,
		Permissions: names,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(username, role string, perms []permission, expiresAt time.Time) (string, error) {
	claims := fournilClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:  role,
		Perms: perms,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate resolves a bearer token to its principal.
func (a *AuthManager) Authenticate(token string) (principal, error) {
	claims := &fournilClaims{}
	_, err := jwtlib.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return principal{}, errors.New("invalid or expired token")
	}
	if claims.Subject == "" {
		return principal{}, errors.New("invalid token subject")
	}
	return principal{
		actor: domain.Actor{Username: claims.Subject, Role: claims.Role},
		perms: claims.Perms,
	}, nil
}

// AuthorizeRegularize gates a re-run of stock consumption: the caller needs
// the regularize permission and the manager PIN. PIN attempts are throttled
// per client whether they succeed or not.
func (a *AuthManager) AuthorizeRegularize(p principal, client string, pin string) error {
	if !p.can(permRegularize) {
		return service.ErrForbidden
	}
	if !a.pinAttempts.admit("pin:" + client) {
		return errPINThrottled
	}
	if !a.checkPIN(pin) {
		log.Printf("[auth] WARN: rejected manager pin for %s from %s", p.actor.Username, client)
		return errPINRejected
	}
	return nil
}

func (a *AuthManager) checkPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if a.pinHash == "" || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.pinHash), []byte(pin)) == nil
}

// CreateStaff registers a bakery staff account (ovens, deliveries, returns).
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.StaffUser{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidInput)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.StaffUser{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	case len(req.Password) < 8:
		return domain.StaffUser{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	a.refreshUsers(ctx)
	a.mu.RLock()
	_, exists := a.accounts[username]
	a.mu.RUnlock()
	if exists {
		return domain.StaffUser{}, fmt.Errorf("%w: username %s already exists", store.ErrConflict, username)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffUser{}, err
	}
	acct := account{hash: hash, role: roleStaff, active: true, created: a.now().UTC()}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  hash,
			Role:      acct.role,
			Active:    acct.active,
			CreatedAt: acct.created,
		}); err != nil {
			return domain.StaffUser{}, err
		}
	}

	a.mu.Lock()
	a.accounts[username] = acct
	a.mu.Unlock()
	return staffUser(username, acct), nil
}

// ListStaff returns the staff accounts sorted by username.
func (a *AuthManager) ListStaff(ctx context.Context) []domain.StaffUser {
	a.refreshUsers(ctx)
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := []domain.StaffUser{}
	for username, acct := range a.accounts {
		if acct.role == roleStaff {
			out = append(out, staffUser(username, acct))
		}
	}
	slices.SortFunc(out, func(x, y domain.StaffUser) int { return strings.Compare(x.Username, y.Username) })
	return out
}

// refreshUsers reloads accounts so users created by another instance can sign
// in. Accounts without a bcrypt hash or with an unknown role are skipped.
func (a *AuthManager) refreshUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		log.Printf("[auth] WARN: reload accounts: %v", err)
		return
	}

	loaded := make(map[string]account, len(users))
	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			log.Printf("[auth] WARN: account %s has no password hash and cannot sign in", username)
			continue
		}
		if _, ok := rolePermissions[user.Role]; !ok {
			log.Printf("[auth] WARN: account %s has unknown role %q", username, user.Role)
			continue
		}
		loaded[username] = account{hash: user.Password, role: user.Role, active: user.Active, created: user.CreatedAt}
	}

	a.mu.Lock()
	for username, acct := range loaded {
		a.accounts[username] = acct
	}
	a.mu.Unlock()
}

func staffUser(username string, acct account) domain.StaffUser {
	return domain.StaffUser{
		Username:  username,
		Role:      acct.role,
		Active:    acct.active,
		CreatedAt: acct.created.Format(time.RFC3339),
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPassword(hash string, input string) bool {
	if !isPasswordHash(hash) || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
