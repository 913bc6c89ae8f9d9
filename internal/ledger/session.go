package ledger

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
)

// tokenRefreshMargin renews a token slightly before the server expires it.
const tokenRefreshMargin = 30 * time.Second

// Credentials identify the user of the host application.
type Credentials struct {
	AppID    string
	UserID   string
	DeviceID string
}

type signInRequest struct {
	SignInType    string `json:"sign_in_type"`
	AppID         string `json:"app_id"`
	UserID        string `json:"user_id"`
	DeviceID      string `json:"device_id"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

type authToken struct {
	Token          string    `json:"token"`
	ExpirationDate time.Time `json:"expiration_date"`
	AppID          string    `json:"app_id"`
	UserID         string    `json:"user_id"`
}

type restorableResponse struct {
	Restorable bool `json:"restorable"`
}

type walletAddressRequest struct {
	WalletAddress string `json:"wallet_address"`
}

// Session signs the user in against the ledger service and caches the bearer token
// until it expires or the server rejects it.
type Session struct {
	http          *resty.Client
	credentials   Credentials
	walletAddress func() string
	now           func() time.Time

	mu    sync.Mutex
	token authToken
}

// NewSession creates a Session. walletAddress supplies the address sent on sign in;
// the backend creates that wallet on chain once the user is authorized.
func NewSession(baseURL string, credentials Credentials, walletAddress func() string) *Session {
	return &Session{
		http:          newRestyClient(baseURL),
		credentials:   credentials,
		walletAddress: walletAddress,
		now:           time.Now,
	}
}

// AuthToken returns the cached token or signs in again when it is missing or about
// to expire.
func (s *Session) AuthToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token.Token != "" && s.now().Add(tokenRefreshMargin).Before(s.token.ExpirationDate) {
		return s.token.Token, nil
	}

	req := signInRequest{
		SignInType: "whitelist",
		AppID:      s.credentials.AppID,
		UserID:     s.credentials.UserID,
		DeviceID:   s.credentials.DeviceID,
	}
	if s.walletAddress != nil {
		req.WalletAddress = s.walletAddress()
	}

	var token authToken
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&token).
		SetError(&APIError{}).
		Post("/users")
	if err := convertError(resp, err, "sign in"); err != nil {
		log.Printf("❌ [SESSION] Sign in failed | UserID=%s | Error=%v", s.credentials.UserID, err)
		return "", err
	}
	if token.Token == "" {
		return "", apperrors.Service(apperrors.CodeUnauthorized, "sign in returned no token", nil)
	}

	log.Printf("✅ [SESSION] Signed in | UserID=%s | ExpiresAt=%s", s.credentials.UserID, token.ExpirationDate.Format(time.RFC3339))
	s.token = token
	return token.Token, nil
}

// Invalidate drops the cached token so the next call signs in again.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.token = authToken{}
	s.mu.Unlock()
	log.Printf("ℹ️ [SESSION] Token invalidated | UserID=%s", s.credentials.UserID)
}

// IsRestorable asks whether address belongs to a wallet this application may restore.
func (s *Session) IsRestorable(ctx context.Context, address string) (bool, error) {
	var out restorableResponse
	err := s.authorized(ctx, "restorable check", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetQueryParam("wallet_address", address).
			SetResult(&out).
			Get("/users/exists")
	})
	if err != nil {
		return false, err
	}
	return out.Restorable, nil
}

// UpdateWalletAddress binds the user to a new wallet address on the backend.
func (s *Session) UpdateWalletAddress(ctx context.Context, address string) error {
	return s.authorized(ctx, "update wallet address", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetBody(walletAddressRequest{WalletAddress: address}).
			Patch("/users/me")
	})
}

// authorized runs call with the bearer token and invalidates it on a 401.
func (s *Session) authorized(ctx context.Context, operation string, call func(*resty.Request) (*resty.Response, error)) error {
	token, err := s.AuthToken(ctx)
	if err != nil {
		return err
	}
	req := s.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetError(&APIError{})
	resp, err := call(req)
	err = convertError(resp, err, operation)
	if errors.Is(err, apperrors.ErrUnauthorized) {
		s.Invalidate()
	}
	return err
}
