package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/notely/notely-go/internal/ledger"
	"github.com/notely/notely-go/internal/mailer"
	"github.com/notely/notely-go/internal/model"
	"github.com/notely/notely-go/internal/repository"
)

const (
	MsgOTPSent        = "OTP sent to email"
	MsgOTPAlreadySent = "OTP already sent, please check your email"
	MsgAccountCreated = "Account created successfully"

	otpSubject    = "Your OTP Code"
	otpBodyFormat = "Your OTP is: %s. It is valid for %d minutes."
)

// RegistrationService turns a sign-up request into a user once the email
// address has been proven with a one-time code. Nothing is written to the
// user store before that.
type RegistrationService struct {
	users   UserStore
	otps    ledger.OTPLedger
	pending ledger.PendingLedger
	mail    mailer.Dispatcher
	hasher  PasswordHasher
	otpTTL  time.Duration
}

// NewRegistrationService creates a RegistrationService. otpTTL is only used
// to word the email and must match the OTP ledger's lifetime.
func NewRegistrationService(users UserStore, otps ledger.OTPLedger, pending ledger.PendingLedger, mail mailer.Dispatcher, hasher PasswordHasher, otpTTL time.Duration) *RegistrationService {
	return &RegistrationService{
		users:   users,
		otps:    otps,
		pending: pending,
		mail:    mail,
		hasher:  hasher,
		otpTTL:  otpTTL,
	}
}

// Register stages the registration and sends a code to its email, unless a
// live code was already sent.
func (s *RegistrationService) Register(ctx context.Context, req model.RegisterRequest) (model.MessageResponse, error) {
	req.Email = model.NormalizeEmail(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if err := validate(req); err != nil {
		return model.MessageResponse{}, err
	}

	email, username := req.Email, req.Username

	if err := s.ensureAvailable(ctx, email, username); err != nil {
		return model.MessageResponse{}, err
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.MessageResponse{}, fmt.Errorf("hashing password: %w", err)
	}

	err = s.pending.Stage(ctx, model.PendingRegistration{
		Username:       username,
		Email:          email,
		PasswordDigest: digest,
	})
	if err != nil {
		return model.MessageResponse{}, fmt.Errorf("staging registration: %w", err)
	}
	slog.Info("registration staged", "email", email)

	msg, err := s.challenge(ctx, email)
	if err != nil {
		return model.MessageResponse{}, err
	}
	return model.MessageResponse{Message: msg}, nil
}

// SendOTP (re)sends a code for a registration that is still pending.
func (s *RegistrationService) SendOTP(ctx context.Context, req model.SendOTPRequest) (model.MessageResponse, error) {
	req.Email = model.NormalizeEmail(req.Email)
	if err := validate(req); err != nil {
		return model.MessageResponse{}, err
	}

	email := req.Email
	ok, err := s.pending.Exists(ctx, email)
	if err != nil {
		return model.MessageResponse{}, fmt.Errorf("checking pending registration: %w", err)
	}
	if !ok {
		return model.MessageResponse{}, ErrNoPendingRegistration
	}

	msg, err := s.challenge(ctx, email)
	if err != nil {
		return model.MessageResponse{}, err
	}
	return model.MessageResponse{Message: msg}, nil
}

// VerifyOTP checks the code and, if the registration is still staged,
// creates the user from it.
func (s *RegistrationService) VerifyOTP(ctx context.Context, req model.VerifyOTPRequest) (model.VerifyOTPResponse, error) {
	req.Email = model.NormalizeEmail(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if err := validate(req); err != nil {
		return model.VerifyOTPResponse{}, err
	}

	email, code := req.Email, req.OTP

	if err := s.otps.Verify(ctx, email, code); err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotFound):
			return model.VerifyOTPResponse{}, ErrOTPNotFound
		case errors.Is(err, ledger.ErrExpired):
			return model.VerifyOTPResponse{}, ErrOTPExpired
		case errors.Is(err, ledger.ErrMismatch):
			return model.VerifyOTPResponse{}, ErrOTPMismatch
		}
		return model.VerifyOTPResponse{}, fmt.Errorf("verifying otp: %w", err)
	}

	// Consuming before the insert means concurrent verifications for one
	// email make at most one creation attempt.
	reg, err := s.pending.Consume(ctx, email)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrExpired) {
			s.discard(ctx, email)
			return model.VerifyOTPResponse{}, ErrRegistrationExpired
		}
		return model.VerifyOTPResponse{}, fmt.Errorf("consuming registration: %w", err)
	}
	s.discard(ctx, email)

	user := &model.User{
		Username:       reg.Username,
		Email:          reg.Email,
		PasswordDigest: reg.PasswordDigest,
	}
	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return model.VerifyOTPResponse{}, ErrEmailTaken
		case errors.Is(err, repository.ErrDuplicateUsername):
			return model.VerifyOTPResponse{}, ErrUsernameTaken
		}
		// Put the registration back so a fresh code can finish it.
		if stageErr := s.pending.Stage(ctx, reg); stageErr != nil {
			slog.Error("restoring registration failed", "email", email, "error", stageErr)
		}
		return model.VerifyOTPResponse{}, fmt.Errorf("creating user: %w", err)
	}
	slog.Info("user registered", "user_id", user.ID, "email", user.Email)

	return model.VerifyOTPResponse{
		Message: MsgAccountCreated,
		User:    user.Response(),
	}, nil
}

func (s *RegistrationService) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("looking up email: %w", err)
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("looking up username: %w", err)
	}
	return nil
}

// challenge issues a code for email and mails it. A code that fails to go
// out is withdrawn again so the next SendOTP issues a fresh one.
func (s *RegistrationService) challenge(ctx context.Context, email string) (string, error) {
	code, reused, err := s.otps.IssueOrReuse(ctx, email)
	if err != nil {
		return "", fmt.Errorf("issuing otp: %w", err)
	}
	if reused {
		return MsgOTPAlreadySent, nil
	}

	body := fmt.Sprintf(otpBodyFormat, code, int(s.otpTTL/time.Minute))
	if err := s.mail.Send(ctx, email, otpSubject, body); err != nil {
		slog.Error("otp delivery failed", "email", email, "error", err)
		s.discard(ctx, email)
		return "", fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	slog.Info("otp sent", "email", email)
	return MsgOTPSent, nil
}

func (s *RegistrationService) discard(ctx context.Context, email string) {
	if err := s.otps.Discard(ctx, email); err != nil {
		slog.Warn("discarding otp failed", "email", email, "error", err)
	}
}
