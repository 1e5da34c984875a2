package appErrors

import (
	"errors"
	"fmt"
)

// ErrEnrollmentNotFound is returned when an enrollment id has no row.
type ErrEnrollmentNotFound struct {
	EnrollmentID string
}

func (e *ErrEnrollmentNotFound) Error() string {
	return fmt.Sprintf("enrollment with ID %s not found", e.EnrollmentID)
}

func NewEnrollmentNotFound(id string) error {
	return &ErrEnrollmentNotFound{EnrollmentID: id}
}

type ErrMessageNotFound struct {
	MessageID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("outbound message with ID %s not found", e.MessageID)
}

func NewMessageNotFound(id string) error {
	return &ErrMessageNotFound{MessageID: id}
}

type ErrClientNotFound struct {
	ClientID string
}

func (e *ErrClientNotFound) Error() string {
	return fmt.Sprintf("client with ID %s not found", e.ClientID)
}

func NewClientNotFound(id string) error {
	return &ErrClientNotFound{ClientID: id}
}

type ErrPracticeNotFound struct {
	PracticeID string
}

func (e *ErrPracticeNotFound) Error() string {
	return fmt.Sprintf("practice with ID %s not found", e.PracticeID)
}

func NewPracticeNotFound(id string) error {
	return &ErrPracticeNotFound{PracticeID: id}
}

type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ConfigError marks invalid practice or campaign configuration. The affected
// enrollment is skipped for the tick.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// MissingAddressError means the client has no address for the channel.
type MissingAddressError struct {
	Channel string
}

func (e *MissingAddressError) Error() string {
	return fmt.Sprintf("client has no %s address", e.Channel)
}

func NewMissingAddress(channel string) error {
	return &MissingAddressError{Channel: channel}
}

// MissingSenderConfigError means the practice has no sender identity for the channel.
type MissingSenderConfigError struct {
	Channel string
}

func (e *MissingSenderConfigError) Error() string {
	return fmt.Sprintf("practice has no %s sender configured", e.Channel)
}

func NewMissingSenderConfig(channel string) error {
	return &MissingSenderConfigError{Channel: channel}
}

type NotImplementedError struct {
	Feature string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s is not implemented", e.Feature)
}

func NewNotImplemented(feature string) error {
	return &NotImplementedError{Feature: feature}
}

// ProviderError wraps a channel provider failure. Error returns the provider
// text verbatim so it can be stored as the failure reason.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return e.Err.Error()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewProviderError(provider string, err error) error {
	return &ProviderError{Provider: provider, Err: err}
}

// IsConfig reports whether err is, or wraps, a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var (
		en *ErrEnrollmentNotFound
		mn *ErrMessageNotFound
		cn *ErrClientNotFound
		pn *ErrPracticeNotFound
		gn *ErrCampaignNotFound
	)
	return errors.As(err, &en) || errors.As(err, &mn) || errors.As(err, &cn) ||
		errors.As(err, &pn) || errors.As(err, &gn)
}

// Reason renders err as the human-readable failure reason stored on a message.
func Reason(err error) string {
	var ni *NotImplementedError
	if errors.As(err, &ni) {
		return "not_implemented: " + ni.Error()
	}
	var ma *MissingAddressError
	if errors.As(err, &ma) {
		return "missing_address: " + ma.Error()
	}
	var ms *MissingSenderConfigError
	if errors.As(err, &ms) {
		return "missing_sender_config: " + ms.Error()
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}
