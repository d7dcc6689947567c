package token

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// authClaimNamespace is the claim key under which the identity provider
// nests account metadata inside the id token.
const authClaimNamespace = "https://api.openai.com/auth"

// IDTokenInfo is the decoded identity token carried inside a token bundle.
// Only the claims the account layer cares about are kept; the raw JWT is
// preserved so it can be re-sent or re-parsed later.
type IDTokenInfo struct {
	Email    string `json:"email,omitempty"`
	PlanType string `json:"plan_type,omitempty"`
	RawJWT   string `json:"raw_jwt,omitempty"`
}

// TokenData is a session-token bundle: the tokens themselves plus the
// external account identifier extracted from the id token at login time.
type TokenData struct {
	IDToken      IDTokenInfo `json:"id_token"`
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	AccountID    string      `json:"account_id,omitempty"`
}

// IsZero reports whether the bundle holds no usable token material.
func (t *TokenData) IsZero() bool {
	return t == nil || (t.AccessToken == "" && t.RefreshToken == "" && t.IDToken.RawJWT == "")
}

// ParseIDToken decodes an id token without verifying its signature.
// Verification happens upstream in the login flow; here the JWT is only a
// carrier for identity claims. It returns the decoded info plus the
// external account identifier, when the token carries one.
func ParseIDToken(raw string) (IDTokenInfo, string, error) {
	info := IDTokenInfo{RawJWT: raw}
	if strings.TrimSpace(raw) == "" {
		return info, "", fmt.Errorf("id token is empty")
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return info, "", fmt.Errorf("parse id token: %w", err)
	}

	if email, ok := claims["email"].(string); ok {
		info.Email = email
	}

	accountID := ""
	if ns, ok := claims[authClaimNamespace].(map[string]interface{}); ok {
		if plan, ok := ns["chatgpt_plan_type"].(string); ok {
			info.PlanType = plan
		}
		if id, ok := ns["chatgpt_account_id"].(string); ok {
			accountID = id
		}
	}

	return info, accountID, nil
}

// NewTokenData builds a bundle from a raw id token and the paired
// access/refresh tokens, extracting the identity claims in one pass.
func NewTokenData(rawIDToken, accessToken, refreshToken string) (TokenData, error) {
	info, accountID, err := ParseIDToken(rawIDToken)
	if err != nil {
		return TokenData{}, err
	}
	return TokenData{
		IDToken:      info,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccountID:    accountID,
	}, nil
}

// NormalizeEmail trims and lowercases an email for identity comparison.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
