// Package model holds the canonical DAOIP-5 shapes every source adapter
// must produce. The JSON field names follow http://www.daostar.org/schemas.
package model

import "time"

// Context is the JSON-LD context attached to every API response envelope.
const Context = "http://www.daostar.org/schemas"

// Application statuses form a closed enumeration.
const (
	StatusPending   = "pending"
	StatusInReview  = "in_review"
	StatusApproved  = "approved"
	StatusFunded    = "funded"
	StatusRejected  = "rejected"
	StatusCompleted = "completed"
)

// ValidStatus reports whether s is one of the known application statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInReview, StatusApproved, StatusFunded, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// Amount is a native-currency amount pair. Amounts are decimal strings so
// base-unit integers (wei and friends) survive without float truncation.
type Amount struct {
	Amount       string `json:"amount"`
	Denomination string `json:"denomination"`
	Type         string `json:"type,omitempty"`
}

// System is a grant-funding platform. Immutable per process lifetime.
type System struct {
	Type          string         `json:"type"`
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	GrantPoolsURI string         `json:"grantPoolsURI,omitempty"`
	ProjectsURI   string         `json:"projectsURI,omitempty"`
	Website       string         `json:"website,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Pool is a funding round within a system. The ID is derived
// deterministically from the upstream round identifier, so repeated fetches
// of the same round always yield the same ID.
type Pool struct {
	Type              string         `json:"type"`
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	FundingMechanism  string         `json:"grantFundingMechanism,omitempty"`
	IsOpen            bool           `json:"isOpen"`
	CloseDate         *time.Time     `json:"closeDate,omitempty"`
	ApplicationsURI   string         `json:"applicationsURI,omitempty"`
	GovernanceURI     string         `json:"governanceURI,omitempty"`
	TotalPoolSize     []Amount       `json:"totalGrantPoolSize,omitempty"`
	TotalPoolSizeUSD  string         `json:"totalGrantPoolSizeUSD,omitempty"`
	Extensions        map[string]any `json:"extensions,omitempty"`
}

// Social is a project social link.
type Social struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
}

// PayoutAddress identifies where approved funds are sent.
type PayoutAddress struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Payout is one entry in an application's payout ledger.
type Payout struct {
	Type  string         `json:"type"`
	Value map[string]any `json:"value"`
	Proof string         `json:"proof,omitempty"`
}

// Application is a project's funding request within a pool. GrantPoolID
// always references a pool returned by the same adapter for the same query
// window; applications are never orphaned from a pool in a response.
type Application struct {
	Type             string         `json:"type"`
	ID               string         `json:"id"`
	GrantPoolID      string         `json:"grantPoolId"`
	GrantPoolName    string         `json:"grantPoolName,omitempty"`
	ProjectID        string         `json:"projectId"`
	ProjectName      string         `json:"projectName,omitempty"`
	CreatedAt        *time.Time     `json:"createdAt,omitempty"`
	ContentURI       string         `json:"contentURI,omitempty"`
	FundsAsked       []Amount       `json:"fundsAsked,omitempty"`
	FundsAskedUSD    string         `json:"fundsAskedInUSD,omitempty"`
	FundsApproved    []Amount       `json:"fundsApproved,omitempty"`
	FundsApprovedUSD string         `json:"fundsApprovedInUSD,omitempty"`
	PayoutAddress    *PayoutAddress `json:"payoutAddress,omitempty"`
	Status           string         `json:"status"`
	Socials          []Social       `json:"socials,omitempty"`
	Payouts          []Payout       `json:"payouts,omitempty"`
	Extensions       map[string]any `json:"extensions,omitempty"`
}
