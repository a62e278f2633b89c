package auth

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"parley/cmd/internal/ids"
)

// Challenge is an open OTP request.
type Challenge struct {
	ID          string    `json:"challenge_id"`
	Phone       string    `json:"phone"`
	CountryCode string    `json:"country_code,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// User is the signed-in identity.
type User struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	CountryCode string    `json:"country_code,omitempty"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Issued is the result of a verified challenge.
type Issued struct {
	User        User      `json:"user"`
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service runs the OTP sign-in flow. It is safe for concurrent use.
type Service struct {
	log    *slog.Logger
	cfg    Config
	tokens AccessTokenManager
	now    func() time.Time

	mu         sync.Mutex
	challenges map[string]Challenge
}

// NewService constructs a Service. now defaults to the UTC wall clock.
func NewService(cfg Config, tokens AccessTokenManager, log *slog.Logger, now func() time.Time) (*Service, error) {
	if tokens == nil || cfg.ChallengeTTL <= 0 {
		return nil, ErrConfig
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		log:        log,
		cfg:        cfg,
		tokens:     tokens,
		now:        now,
		challenges: make(map[string]Challenge),
	}, nil
}

// RequestOTP opens a challenge for the phone number. Nothing is sent.
func (s *Service) RequestOTP(dialCode, number, countryCode string) (Challenge, error) {
	phone, err := NormalizePhone(dialCode, number)
	if err != nil {
		return Challenge{}, err
	}

	now := s.now()
	c := Challenge{
		ID:          ids.New(now),
		Phone:       phone,
		CountryCode: strings.ToUpper(strings.TrimSpace(countryCode)),
		ExpiresAt:   now.Add(s.cfg.ChallengeTTL),
	}

	s.mu.Lock()
	s.pruneLocked(now)
	s.challenges[c.ID] = c
	s.mu.Unlock()

	s.log.Info("auth.otp.request", "challenge_id", c.ID, "country_code", c.CountryCode)
	return c, nil
}

// VerifyOTP completes a challenge. Any code of 4 to 6 digits is accepted.
// The display name must be 2 to 50 characters.
func (s *Service) VerifyOTP(challengeID, code, name string) (Issued, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)

	if !validOTP(code) {
		s.log.Info("auth.otp.reject", "challenge_id", challengeID, "reason", "malformed_code")
		return Issued{}, FieldError{Field: "otp", Msg: "OTP must be 4 to 6 digits"}
	}
	switch n := utf8.RuneCountInString(name); {
	case n < 2:
		return Issued{}, FieldError{Field: "name", Msg: "name must be at least 2 characters"}
	case n > 50:
		return Issued{}, FieldError{Field: "name", Msg: "name must be at most 50 characters"}
	}

	now := s.now()

	s.mu.Lock()
	s.pruneLocked(now)
	c, ok := s.challenges[challengeID]
	if ok {
		delete(s.challenges, challengeID)
	}
	s.mu.Unlock()

	if !ok {
		return Issued{}, ErrChallengeNotFound
	}

	user := User{
		ID:          ids.New(now),
		Phone:       c.Phone,
		CountryCode: c.CountryCode,
		Name:        name,
		CreatedAt:   now,
	}
	sessionID := ids.New(now)

	token, exp, err := s.tokens.Issue(AccessClaims{
		UserID:      user.ID,
		SessionID:   sessionID,
		DisplayName: user.Name,
		Phone:       user.Phone,
	}, now)
	if err != nil {
		return Issued{}, err
	}

	s.log.Info("auth.otp.verify", "challenge_id", challengeID, "user_id", user.ID, "session_id", sessionID)
	return Issued{User: user, SessionID: sessionID, AccessToken: token, ExpiresAt: exp}, nil
}

// Authenticate verifies an access token.
func (s *Service) Authenticate(token string) (AccessClaims, error) {
	return s.tokens.Verify(strings.TrimSpace(token), s.now())
}

// PendingChallenges returns the number of unexpired challenges.
func (s *Service) PendingChallenges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.challenges)
}

func (s *Service) pruneLocked(now time.Time) {
	for id, c := range s.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(s.challenges, id)
		}
	}
}
