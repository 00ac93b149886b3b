package domain

import "time"

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Token is the decoded form of a signed bearer token. It is never persisted;
// the signed wire form is self-describing.
type Token struct {
	ID        string
	TenantID  string
	Subject   string
	Scopes    []string
	Kind      TokenKind
	FamilyID  string
	KID       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenPair is the result of a login or refresh exchange.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}
