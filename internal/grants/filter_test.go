package grants

import (
	"testing"

	"github.com/daostar/grants-aggregator/internal/model"
)

func TestMatchesApplicationStatusIgnoresCase(t *testing.T) {
	app := model.Application{Status: model.StatusFunded, ProjectID: "p1"}

	tests := []struct {
		status string
		want   bool
	}{
		{"funded", true},
		{"Funded", true},
		{"FUNDED", true},
		{"pending", false},
		{"", true},
	}
	for _, tt := range tests {
		f := Filter{Status: tt.status}
		if got := f.MatchesApplication(app); got != tt.want {
			t.Errorf("MatchesApplication(status=%q) = %t, want %t", tt.status, got, tt.want)
		}
	}
}

func TestMatchesPoolMechanismIgnoresCase(t *testing.T) {
	pool := model.Pool{Name: "Round 1", FundingMechanism: "Quadratic Funding"}

	f := Filter{Mechanism: "quadratic funding"}
	if !f.MatchesPool(pool) {
		t.Error("mechanism match should ignore case")
	}
	f = Filter{Mechanism: "direct grant"}
	if f.MatchesPool(pool) {
		t.Error("different mechanism should not match")
	}
}
