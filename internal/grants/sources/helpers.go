// Package sources contains the platform integrations. Each file implements
// grants.Source for one upstream; shared transforms live here.
package sources

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daostar/grants-aggregator/internal/model"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// fetchStamp marks when a system descriptor was assembled from upstream data.
func fetchStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// caip10 builds a CAIP-10 account identifier for an address on a chain.
func caip10(chainID int, address string) string {
	return fmt.Sprintf("eip155:%d:%s", chainID, address)
}

// weiToUnit converts a base-unit integer string (e.g. wei) to a whole-unit
// decimal string using the given scale (18 for ETH-style tokens). Malformed
// input yields "0".
func weiToUnit(wei string, scale int32) string {
	d, err := decimal.NewFromString(strings.TrimSpace(wei))
	if err != nil {
		return "0"
	}
	return d.Shift(-scale).String()
}

// addBaseUnits sums two base-unit integer strings. Malformed operands count
// as zero.
func addBaseUnits(a, b string) string {
	da, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		da = decimal.Zero
	}
	db, err := decimal.NewFromString(strings.TrimSpace(b))
	if err != nil {
		db = decimal.Zero
	}
	return da.Add(db).String()
}

// parseISODate accepts the date layouts the upstreams emit and returns nil
// for anything unparseable rather than failing the record.
func parseISODate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// mechanismNames maps upstream funding-mechanism tags onto the canonical
// DAOIP-5 names.
var mechanismNames = map[string]string{
	"quadratic": "Quadratic Funding",
	"qf":        "Quadratic Funding",
	"streaming": "Streaming Quadratic Funding",
	"direct":    "Direct Grants",
	"bounty":    "Bounties",
}

func mechanismName(tag string) string {
	if name, ok := mechanismNames[strings.ToLower(tag)]; ok {
		return name
	}
	return "Direct Grants"
}

// amountOf builds a single-entry amount list.
func amountOf(amount, denomination string) []model.Amount {
	return []model.Amount{{Amount: amount, Denomination: denomination}}
}

// socialPlatforms normalizes the platform names the canonical schema knows.
var socialPlatforms = map[string]string{
	"twitter":   "Twitter",
	"x":         "Twitter",
	"github":    "GitHub",
	"discord":   "Discord",
	"telegram":  "Telegram",
	"linkedin":  "LinkedIn",
	"farcaster": "Farcaster",
	"lens":      "Lens",
}

type socialLink struct {
	Type string `json:"type"`
	Link string `json:"link"`
}

// mapSocials converts upstream social links, dropping platforms the schema
// does not recognize.
func mapSocials(links []socialLink) []model.Social {
	var out []model.Social
	for _, l := range links {
		name, ok := socialPlatforms[strings.ToLower(l.Type)]
		if !ok || l.Link == "" {
			continue
		}
		out = append(out, model.Social{Platform: name, URL: l.Link})
	}
	return out
}
