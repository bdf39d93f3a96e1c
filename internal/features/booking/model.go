package booking

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrLinkExpired      = errors.New("link has expired")
)

// SupportLink is a signed call booker link that lets a client book a support
// call with one admin without logging in.
type SupportLink struct {
	Link      string `json:"link"`
	AdminID   int64  `json:"admin_id"`
	CompanyID int64  `json:"company_id"`
	Expires   int64  `json:"e"`
	Signature string `json:"s"`
}
