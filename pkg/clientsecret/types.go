// Package clientsecret reads and rotates the secret (public key) that a
// HelseID client authenticates with.
package clientsecret

import (
	"strings"
	"time"
)

// Scope grants access to the self-service client endpoints.
const Scope = "nhn:selvbetjening/client"

// Validation messages.
const (
	MsgClientIDRequired = "ClientId cannot be null or empty"
	MsgJwkRequired      = "Jwk cannot be null or empty"
)

// ClientConfiguration identifies the client and its current private key.
type ClientConfiguration struct {
	ClientID string
	Jwk      string
}

// Validate reports every missing field.
func (c ClientConfiguration) Validate() *ErrorResult {
	errs := &ErrorResult{}
	if strings.TrimSpace(c.ClientID) == "" {
		errs.Add(ErrorMessage{Text: MsgClientIDRequired, Type: ErrorTypeValidation})
	}
	if strings.TrimSpace(c.Jwk) == "" {
		errs.Add(ErrorMessage{Text: MsgJwkRequired, Type: ErrorTypeValidation})
	}
	return errs
}

// ClientSecret is one secret registered for a client.
type ClientSecret struct {
	KeyID          string
	ExpirationDate *time.Time
	Origin         string
}

// ExpirationResponse carries the secret matching the caller's key, if any,
// and every registered secret.
type ExpirationResponse struct {
	Selected *ClientSecret
	All      []ClientSecret
}

// UpdateResponse describes a completed secret rotation.
type UpdateResponse struct {
	ExpirationDate string
	ClientID       string
	NewKeyID       string
}
