package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/model"
	"github.com/daostar/grants-aggregator/internal/price"
)

const (
	projA = "0xaaa0000000000000000000000000000000000aaa"
	projB = "0xbbb0000000000000000000000000000000000bbb"
)

// fakeOctant serves the subset of the Octant backend the adapter touches.
type fakeOctant struct {
	currentEpoch int
	// epoch -> snapshot status
	current   map[int]bool
	finalized map[int]bool
	// epoch -> allocations
	allocations map[int][]map[string]string
	rewards     map[int][]map[string]string
	merkle      map[int]map[string]any
}

func (f *fakeOctant) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/epochs/current", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"currentEpoch":%d}`, f.currentEpoch)
	})
	mux.HandleFunc("/info/chain-info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chainId":1,"chainName":"mainnet"}`)
	})
	mux.HandleFunc("/epochs/info/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"totalRewards":"1000000000000000000000","matchedRewards":"400000000000000000000","leftover":"0"}`)
	})
	mux.HandleFunc("/snapshots/status/", func(w http.ResponseWriter, r *http.Request) {
		var epoch int
		fmt.Sscanf(r.URL.Path, "/snapshots/status/%d", &epoch)
		fmt.Fprintf(w, `{"isCurrent":%t,"isPending":false,"isFinalized":%t}`, f.current[epoch], f.finalized[epoch])
	})
	mux.HandleFunc("/allocations/epoch/", func(w http.ResponseWriter, r *http.Request) {
		var epoch int
		fmt.Sscanf(r.URL.Path, "/allocations/epoch/%d", &epoch)
		writeJSONList(w, "allocations", f.allocations[epoch])
	})
	mux.HandleFunc("/rewards/projects/epoch/", func(w http.ResponseWriter, r *http.Request) {
		var epoch int
		fmt.Sscanf(r.URL.Path, "/rewards/projects/epoch/%d", &epoch)
		if f.rewards[epoch] == nil {
			http.Error(w, "epoch not finalized", http.StatusBadRequest)
			return
		}
		writeJSONList(w, "rewards", f.rewards[epoch])
	})
	mux.HandleFunc("/rewards/merkle_tree/", func(w http.ResponseWriter, r *http.Request) {
		var epoch int
		fmt.Sscanf(r.URL.Path, "/rewards/merkle_tree/%d", &epoch)
		tree, ok := f.merkle[epoch]
		if !ok {
			http.Error(w, "epoch not finalized", http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"root":"%s","leaves":[{"address":"%s","amount":"%s"}]}`,
			tree["root"], tree["address"], tree["amount"])
	})
	mux.HandleFunc("/projects/details", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"projectsDetails":[{"name":"Drips","address":"%s"},{"name":"Hypercerts","address":"%s"}]}`, projA, projB)
	})
	return mux
}

func writeJSONList(w http.ResponseWriter, field string, items []map[string]string) {
	fmt.Fprintf(w, `{"%s":[`, field)
	for i, item := range items {
		if i > 0 {
			fmt.Fprint(w, ",")
		}
		fmt.Fprint(w, "{")
		first := true
		for _, k := range []string{"donor", "project", "amount", "address", "allocated", "matched"} {
			v, ok := item[k]
			if !ok {
				continue
			}
			if !first {
				fmt.Fprint(w, ",")
			}
			first = false
			fmt.Fprintf(w, `"%s":"%s"`, k, v)
		}
		fmt.Fprint(w, "}")
	}
	fmt.Fprint(w, "]}")
}

func newOctantAdapter(t *testing.T, fake *fakeOctant, knownGood []int) *Octant {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	rates := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/history") {
			fmt.Fprint(w, `{"market_data":{"current_price":{"usd":2000}}}`)
			return
		}
		fmt.Fprint(w, `{"ethereum":{"usd":2000}}`)
	}))
	t.Cleanup(rates.Close)

	logger := slog.Default()
	c := cache.New(logger)
	prices := price.NewConverter(rates.URL, "", c, logger)
	return NewOctant(srv.URL, c, prices, knownGood, logger)
}

func concludedEpochFake() *fakeOctant {
	return &fakeOctant{
		currentEpoch: 2,
		current:      map[int]bool{2: true},
		finalized:    map[int]bool{1: true},
		allocations: map[int][]map[string]string{
			1: {
				{"donor": "0xd1", "project": projA, "amount": "500000000000000000"},
				{"donor": "0xd2", "project": projA, "amount": "500000000000000000"},
				{"donor": "0xd1", "project": projB, "amount": "250000000000000000"},
			},
		},
		rewards: map[int][]map[string]string{
			1: {
				{"address": projA, "allocated": "1000000000000000000", "matched": "2000000000000000000"},
				{"address": projB, "allocated": "250000000000000000", "matched": "0"},
			},
		},
		merkle: map[int]map[string]any{
			1: {"root": "0xroot", "address": projA, "amount": "3000000000000000000"},
		},
	}
}

func TestOctantListPools(t *testing.T) {
	o := newOctantAdapter(t, concludedEpochFake(), nil)

	pools, err := o.ListPools(context.Background(), grants.Filter{})
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if len(pools) != 2 {
		t.Fatalf("got %d pools, want 2", len(pools))
	}

	p := pools[0]
	wantID := "eip155:1:" + zeroAddress + "?contractId=1"
	if p.ID != wantID {
		t.Errorf("pool ID = %q, want %q", p.ID, wantID)
	}
	if p.Name != "Octant Epoch 1" {
		t.Errorf("pool name = %q", p.Name)
	}
	if p.FundingMechanism != "Quadratic Funding" {
		t.Errorf("mechanism = %q", p.FundingMechanism)
	}
	if p.IsOpen {
		t.Error("epoch 1 should be closed")
	}
	if !pools[1].IsOpen {
		t.Error("epoch 2 should be open")
	}
	if got := p.TotalPoolSize[0].Amount; got != "1000" {
		t.Errorf("pool size = %q, want %q", got, "1000")
	}
	if p.TotalPoolSizeUSD != "2000000.00" {
		t.Errorf("pool size USD = %q, want %q", p.TotalPoolSizeUSD, "2000000.00")
	}
	if pools[0].CloseDate == nil || pools[1].CloseDate == nil {
		t.Fatal("close dates missing")
	}
	if !pools[1].CloseDate.After(*pools[0].CloseDate) {
		t.Error("epoch 2 should close after epoch 1")
	}
}

func TestOctantOpenEpochReportsEmptyApplications(t *testing.T) {
	// Epoch 2 is the preferred round and open, so its lack of allocations
	// must surface as an empty list, not as epoch 1's data.
	o := newOctantAdapter(t, concludedEpochFake(), nil)

	apps, err := o.ListApplications(context.Background(), grants.Filter{})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if len(apps) != 0 {
		t.Errorf("got %d applications, want 0", len(apps))
	}
}

func TestOctantFallsBackToConcludedEpoch(t *testing.T) {
	fake := concludedEpochFake()
	fake.current = map[int]bool{} // nothing open; epoch 2 closed and empty
	o := newOctantAdapter(t, fake, nil)

	apps, err := o.ListApplications(context.Background(), grants.Filter{})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("got %d applications, want 2", len(apps))
	}
	if apps[0].GrantPoolName != "Octant Epoch 1" {
		t.Errorf("pool name = %q, want epoch 1", apps[0].GrantPoolName)
	}
}

func TestOctantApplicationFields(t *testing.T) {
	o := newOctantAdapter(t, concludedEpochFake(), nil)
	poolID := "eip155:1:" + zeroAddress + "?contractId=1"

	apps, err := o.ListApplications(context.Background(), grants.Filter{PoolID: poolID})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("got %d applications, want 2", len(apps))
	}

	a := apps[0]
	if a.ID != poolID+"&proposalId="+projA {
		t.Errorf("app ID = %q", a.ID)
	}
	if a.ProjectName != "Drips" {
		t.Errorf("project name = %q, want %q", a.ProjectName, "Drips")
	}
	if a.Status != model.StatusFunded {
		t.Errorf("status = %q, want %q", a.Status, model.StatusFunded)
	}
	// 0.5 + 0.5 ETH allocated plus 2 ETH matched.
	if got := a.FundsApproved[0].Amount; got != "1" {
		t.Errorf("allocated = %q, want %q", got, "1")
	}
	if len(a.FundsApproved) != 2 || a.FundsApproved[1].Type != "matched_funding" {
		t.Fatalf("matched funding entry missing: %+v", a.FundsApproved)
	}
	if got := a.FundsApproved[1].Amount; got != "2" {
		t.Errorf("matched = %q, want %q", got, "2")
	}
	// 3 ETH total at 2000 USD.
	if a.FundsApprovedUSD != "6000.00" {
		t.Errorf("USD = %q, want %q", a.FundsApprovedUSD, "6000.00")
	}
	if len(a.Payouts) != 1 {
		t.Fatalf("payouts = %d, want 1", len(a.Payouts))
	}
	if a.Payouts[0].Value["merkleRoot"] != "0xroot" {
		t.Errorf("merkle root = %v", a.Payouts[0].Value["merkleRoot"])
	}
	if apps[1].Status != model.StatusFunded {
		t.Errorf("second status = %q", apps[1].Status)
	}
	if len(apps[1].Payouts) != 0 {
		t.Errorf("second app should have no merkle payout")
	}
}

func TestOctantKnownGoodEpochPreferred(t *testing.T) {
	fake := concludedEpochFake()
	fake.current = map[int]bool{} // epoch 2 closed with no allocations
	o := newOctantAdapter(t, fake, []int{1})

	apps, err := o.ListApplications(context.Background(), grants.Filter{})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if len(apps) == 0 {
		t.Fatal("want applications from allow-listed epoch 1")
	}
	if apps[0].GrantPoolName != "Octant Epoch 1" {
		t.Errorf("pool name = %q", apps[0].GrantPoolName)
	}
}

func TestOctantGetPool(t *testing.T) {
	o := newOctantAdapter(t, concludedEpochFake(), nil)
	id := "eip155:1:" + zeroAddress + "?contractId=2"

	p, err := o.GetPool(context.Background(), id)
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if p == nil || p.ID != id {
		t.Fatalf("GetPool = %+v, want pool %q", p, id)
	}

	missing, err := o.GetPool(context.Background(), "eip155:1:"+zeroAddress+"?contractId=99")
	if err != nil {
		t.Fatalf("GetPool missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetPool for unknown epoch = %+v, want nil", missing)
	}

	bogus, err := o.GetPool(context.Background(), "not-a-pool-id")
	if err != nil || bogus != nil {
		t.Errorf("GetPool bogus = (%+v, %v), want (nil, nil)", bogus, err)
	}
}

func TestOctantGetApplication(t *testing.T) {
	o := newOctantAdapter(t, concludedEpochFake(), nil)
	id := "eip155:1:" + zeroAddress + "?contractId=1&proposalId=" + projB

	a, err := o.GetApplication(context.Background(), id)
	if err != nil {
		t.Fatalf("GetApplication: %v", err)
	}
	if a == nil {
		t.Fatal("GetApplication = nil, want application")
	}
	if a.ProjectName != "Hypercerts" {
		t.Errorf("project name = %q", a.ProjectName)
	}
	if a.Status != model.StatusFunded {
		t.Errorf("status = %q", a.Status)
	}
}

func TestOctantEpochFromID(t *testing.T) {
	tests := []struct {
		id    string
		epoch int
		ok    bool
	}{
		{"eip155:1:" + zeroAddress + "?contractId=7", 7, true},
		{"eip155:1:" + zeroAddress + "?contractId=3&proposalId=0xabc", 3, true},
		{"eip155:1:" + zeroAddress, 0, false},
		{"eip155:1:" + zeroAddress + "?contractId=zero", 0, false},
		{"eip155:1:" + zeroAddress + "?contractId=0", 0, false},
	}
	for _, tt := range tests {
		epoch, ok := octantEpochFromID(tt.id)
		if epoch != tt.epoch || ok != tt.ok {
			t.Errorf("octantEpochFromID(%q) = (%d, %t), want (%d, %t)", tt.id, epoch, ok, tt.epoch, tt.ok)
		}
	}
}

func TestOctantCheckHealth(t *testing.T) {
	o := newOctantAdapter(t, concludedEpochFake(), nil)

	got := o.CheckHealth(context.Background())
	for _, endpoint := range []string{"epochs", "chain_info", "epoch_info"} {
		if !got[endpoint] {
			t.Errorf("endpoint %q unhealthy: %v", endpoint, got)
		}
	}

	down := NewOctant("http://127.0.0.1:0", cache.New(slog.Default()), nil, nil, slog.Default())
	gotDown := down.CheckHealth(context.Background())
	if gotDown["epochs"] || gotDown["chain_info"] {
		t.Errorf("unreachable upstream reported healthy: %v", gotDown)
	}
}

func TestOctantChainIDRetriesAfterFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info/chain-info" {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "temporarily unavailable", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"chainId":11155111,"chainName":"sepolia"}`)
	}))
	t.Cleanup(srv.Close)

	o := NewOctant(srv.URL, cache.New(slog.Default()), nil, nil, slog.Default())
	ctx := context.Background()

	if got := o.chain(ctx); got != 1 {
		t.Fatalf("chain after failed lookup = %d, want fallback 1", got)
	}
	if got := o.chain(ctx); got != 11155111 {
		t.Fatalf("chain after upstream recovery = %d, want 11155111", got)
	}
	if got := o.chain(ctx); got != 11155111 {
		t.Errorf("chain = %d, want cached 11155111", got)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("chain-info calls = %d, want 2 (success cached)", got)
	}
}
