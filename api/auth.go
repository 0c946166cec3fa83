package api

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/go-authgate/triply-cli/httpclient"
	"github.com/go-authgate/triply-cli/session"
)

const loginProvider = "triply"

type loginRequest struct {
	Credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"credentials"`
}

// LoginResponse carries the credential issued on login or OTP verification.
type LoginResponse struct {
	Token session.Credential `json:"token"`
}

// RegisterRequest starts a registration. The backend emails an OTP.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
}

// PreRegisterResponse carries the token that pairs with the emailed OTP.
type PreRegisterResponse struct {
	OTPToken string `json:"otpToken"`
}

type verifyOTPRequest struct {
	OTPCode  string `json:"otpCode"`
	OTPToken string `json:"otpToken"`
}

type resendOTPRequest struct {
	Email string `json:"email"`
}

// ResendOTPResponse echoes where the new OTP was sent.
type ResendOTPResponse struct {
	Message string `json:"message"`
	Email   string `json:"email"`
}

// AuthService signs users in and out.
type AuthService struct {
	base
	session Session
	url     string
}

// Login exchanges email and password for a credential and persists it.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	var body loginRequest
	body.Credentials.Email = email
	body.Credentials.Password = password

	req := request(http.MethodPost, fmt.Sprintf("%s/authentication/%s/login", s.url, loginProvider), body)
	req.SkipAuthRecovery = true

	env, err := httpclient.Call[LoginResponse](ctx, s.client, req)
	if err != nil {
		s.log.Error("login failed", zap.Error(err))
		return nil, err
	}
	if err := s.persist(ctx, env.Data.Token); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// PreRegister starts a registration and returns the OTP token.
func (s *AuthService) PreRegister(ctx context.Context, r RegisterRequest) (*PreRegisterResponse, error) {
	req := request(http.MethodPost, s.url+"/authentication/triply/pre-register", r)
	req.SkipAuthRecovery = true

	env, err := httpclient.Call[PreRegisterResponse](ctx, s.client, req)
	if err != nil {
		s.log.Error("pre-register failed", zap.Error(err))
		return nil, err
	}
	return &env.Data, nil
}

// VerifyOTP completes a registration and persists the issued credential.
func (s *AuthService) VerifyOTP(ctx context.Context, code, otpToken string) (*LoginResponse, error) {
	req := request(http.MethodPost, s.url+"/authentication/verify-otp", verifyOTPRequest{OTPCode: code, OTPToken: otpToken})
	req.SkipAuthRecovery = true

	env, err := httpclient.Call[LoginResponse](ctx, s.client, req)
	if err != nil {
		s.log.Error("verify OTP failed", zap.Error(err))
		return nil, err
	}
	if err := s.persist(ctx, env.Data.Token); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// ResendOTP asks the backend to email a new OTP.
func (s *AuthService) ResendOTP(ctx context.Context, email string) (*ResendOTPResponse, error) {
	req := request(http.MethodPost, s.url+"/authentication/resend-otp", resendOTPRequest{Email: email})
	req.SkipAuthRecovery = true

	env, err := httpclient.Call[ResendOTPResponse](ctx, s.client, req)
	if err != nil {
		s.log.Error("resend OTP failed", zap.Error(err))
		return nil, err
	}
	return &env.Data, nil
}

// Logout ends the session locally.
func (s *AuthService) Logout(ctx context.Context) {
	s.session.Logout(ctx)
}

// IsAuthenticated reports whether an unexpired credential is stored.
func (s *AuthService) IsAuthenticated(ctx context.Context) bool {
	return s.session.IsAuthenticated(ctx)
}

func (s *AuthService) persist(ctx context.Context, cred session.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("invalid credential in response: %w", err)
	}
	return s.session.StoreCredential(ctx, cred)
}
