package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt ignores everything beyond
)

var (
	ErrPasswordAlreadySet = errors.New("password already set")
	ErrPasswordNotSet     = errors.New("password not set")
	ErrInvalidPassword    = errors.New("invalid password")
)

// PasswordConfigured reports whether the shared admin password has been set up.
func (s *Service) PasswordConfigured(ctx context.Context) (bool, error) {
	_, err := s.store.GetSetting(ctx, domain.SettingPasswordHash)
	if errors.Is(err, domain.ErrSettingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetupPassword sets the first password. It fails with ErrPasswordAlreadySet
// once a password exists, including when a concurrent setup won; changing it
// goes through SetPassword.
func (s *Service) SetupPassword(ctx context.Context, password string) error {
	configured, err := s.PasswordConfigured(ctx)
	if err != nil {
		return err
	}
	if configured {
		return ErrPasswordAlreadySet
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	created, err := s.store.CreateSetting(ctx, domain.SettingPasswordHash, hash)
	if err != nil {
		return err
	}
	if !created {
		return ErrPasswordAlreadySet
	}
	return nil
}

// SetPassword replaces the stored password hash unconditionally.
func (s *Service) SetPassword(ctx context.Context, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	return s.store.SetSetting(ctx, domain.SettingPasswordHash, hash)
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", apperrors.ValidationError(fmt.Sprintf("password must be at least %d characters", minPasswordLength)).
			WithField("field", "password")
	}
	if len(password) > maxPasswordLength {
		return "", apperrors.ValidationError(fmt.Sprintf("password must be at most %d bytes", maxPasswordLength)).
			WithField("field", "password")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword verifies password against the stored hash.
func (s *Service) CheckPassword(ctx context.Context, password string) error {
	hash, err := s.store.GetSetting(ctx, domain.SettingPasswordHash)
	if errors.Is(err, domain.ErrSettingNotFound) {
		return ErrPasswordNotSet
	}
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}
