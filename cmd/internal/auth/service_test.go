package auth

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	tokens, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	clk := &testClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	svc, err := NewService(cfg, tokens, nil, clk.Now)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, clk
}

func TestService_SignInFlow(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)

	ch, err := svc.RequestOTP("+91", "9876543210", "in")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if ch.Phone != "+919876543210" || ch.CountryCode != "IN" || len(ch.ID) != 26 {
		t.Fatalf("challenge=%+v", ch)
	}
	if svc.PendingChallenges() != 1 {
		t.Fatalf("pending=%d want=1", svc.PendingChallenges())
	}

	issued, err := svc.VerifyOTP(ch.ID, "4242", "  Ada Lovelace ")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if issued.User.Name != "Ada Lovelace" || issued.User.Phone != ch.Phone || issued.AccessToken == "" {
		t.Fatalf("issued=%+v", issued)
	}
	if !strings.HasPrefix(issued.AccessToken, "v4.public.") {
		t.Fatalf("token=%q", issued.AccessToken)
	}
	if svc.PendingChallenges() != 0 {
		t.Fatalf("challenge not consumed")
	}

	clk.Advance(time.Minute)
	claims, err := svc.Authenticate(issued.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.UserID != issued.User.ID || claims.SessionID != issued.SessionID || claims.DisplayName != "Ada Lovelace" {
		t.Fatalf("claims=%+v", claims)
	}
	if claims.Issuer != "parley" || !claims.ExpiresAt.Equal(issued.ExpiresAt) {
		t.Fatalf("claims=%+v", claims)
	}

	if _, err := svc.VerifyOTP(ch.ID, "4242", "Ada"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("reuse err=%v want=%v", err, ErrChallengeNotFound)
	}
}

func TestService_VerifyValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ch, err := svc.RequestOTP("+44", "7700900123", "GB")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	cases := []struct {
		name  string
		code  string
		user  string
		field string
	}{
		{name: "short code", code: "123", user: "Bob", field: "otp"},
		{name: "long code", code: "1234567", user: "Bob", field: "otp"},
		{name: "letters", code: "12ab", user: "Bob", field: "otp"},
		{name: "short name", code: "1234", user: "B", field: "name"},
		{name: "long name", code: "1234", user: strings.Repeat("n", 51), field: "name"},
	}
	for _, tc := range cases {
		_, err := svc.VerifyOTP(ch.ID, tc.code, tc.user)
		var fe FieldError
		if !errors.As(err, &fe) || fe.Field != tc.field {
			t.Fatalf("%s: err=%v want field error on %s", tc.name, err, tc.field)
		}
	}

	// Validation failures keep the challenge open.
	if svc.PendingChallenges() != 1 {
		t.Fatalf("pending=%d want=1", svc.PendingChallenges())
	}
}

func TestService_ChallengeExpires(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	ch, err := svc.RequestOTP("+1", "5551234567", "US")
	if err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}

	clk.Advance(5 * time.Minute)
	if _, err := svc.VerifyOTP(ch.ID, "123456", "Carol"); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("err=%v want=%v", err, ErrChallengeNotFound)
	}
}

func TestService_RejectsBadTokens(t *testing.T) {
	t.Parallel()

	svc, clk := newTestService(t)
	other, _ := newTestService(t)

	ch, _ := other.RequestOTP("+1", "5551234567", "US")
	foreign, err := other.VerifyOTP(ch.ID, "1234", "Mallory")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	if _, err := svc.Authenticate(foreign.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token err=%v want=%v", err, ErrInvalidToken)
	}
	if _, err := svc.Authenticate("v4.public.garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token err=%v want=%v", err, ErrInvalidToken)
	}

	ch, _ = svc.RequestOTP("+1", "5551234567", "US")
	own, err := svc.VerifyOTP(ch.ID, "1234", "Dave")
	if err != nil {
		t.Fatalf("VerifyOTP: %v", err)
	}
	clk.Advance(13 * time.Hour)
	if _, err := svc.Authenticate(own.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token err=%v want=%v", err, ErrInvalidToken)
	}
}

func TestNewService_Config(t *testing.T) {
	t.Parallel()

	if _, err := NewService(DefaultConfig(), nil, nil, nil); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want=%v", err, ErrConfig)
	}
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = "not-hex"
	if _, err := NewPasetoV4PublicManager(cfg); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want=%v", err, ErrConfig)
	}
}
