package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/model"
)

// countingDND records how often the registry is consulted.
type countingDND struct {
	verdict string
	calls   int
}

func (d *countingDND) Check(ctx context.Context, phone string) string {
	d.calls++
	return d.verdict
}

func complianceBroadcast(dndRespect, optOutEnabled bool) *model.Broadcast {
	return &model.Broadcast{
		Config: model.Config{
			Compliance: model.Compliance{
				DNDRespect:    dndRespect,
				OptOutEnabled: optOutEnabled,
			},
		},
	}
}

func TestCheckDNDBlockShortCircuitsOptOut(t *testing.T) {
	store := newMemStore()
	optOuts := &memOptOutRepo{store}
	if err := optOuts.Upsert("+15550001", model.OptOutSourceManual, time.Hour, nil); err != nil {
		t.Fatal(err)
	}
	svc := &ComplianceService{DND: staticDND{DNDBlocked}, OptOutRepo: optOuts}

	v, err := svc.Check(context.Background(), complianceBroadcast(true, true), "+15550001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Blocked {
		t.Error("Blocked = false for a DND-blocked number")
	}
	if v.OptedOut {
		t.Error("OptedOut consulted after a DND block; DND must come first")
	}
	if v.DNDStatus != DNDBlocked {
		t.Errorf("DNDStatus = %s, want blocked", v.DNDStatus)
	}
}

func TestCheckSkipsDNDWhenBroadcastIgnoresIt(t *testing.T) {
	dnd := &countingDND{verdict: DNDBlocked}
	svc := &ComplianceService{DND: dnd, OptOutRepo: &memOptOutRepo{newMemStore()}}

	v, err := svc.Check(context.Background(), complianceBroadcast(false, true), "+15550001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if dnd.calls != 0 {
		t.Errorf("DND registry consulted %d times with dnd_respect=false, want 0", dnd.calls)
	}
	if v.Blocked {
		t.Error("Blocked = true with dnd_respect=false")
	}
	if v.DNDStatus != DNDUnchecked {
		t.Errorf("DNDStatus = %s, want unchecked", v.DNDStatus)
	}
}

func TestCheckSkipsOptOutsWhenDisabled(t *testing.T) {
	store := newMemStore()
	optOuts := &memOptOutRepo{store}
	if err := optOuts.Upsert("+15550001", model.OptOutSourceManual, time.Hour, nil); err != nil {
		t.Fatal(err)
	}
	svc := &ComplianceService{DND: staticDND{DNDUnchecked}, OptOutRepo: optOuts}

	v, err := svc.Check(context.Background(), complianceBroadcast(false, false), "+15550001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.OptedOut {
		t.Error("OptedOut = true with opt_out_enabled=false")
	}
}

func TestCheckMemoizesPerPhone(t *testing.T) {
	dnd := &countingDND{verdict: DNDAllowed}
	svc := &ComplianceService{DND: dnd, OptOutRepo: &memOptOutRepo{newMemStore()}}
	b := complianceBroadcast(true, true)
	memo := map[string]Verdict{}

	first, err := svc.Check(context.Background(), b, "+15550001", memo)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Check(context.Background(), b, "+15550001", memo)
	if err != nil {
		t.Fatal(err)
	}
	if dnd.calls != 1 {
		t.Errorf("DND registry consulted %d times for one phone, want 1", dnd.calls)
	}
	if first != second {
		t.Errorf("memoized verdict %+v differs from first %+v", second, first)
	}

	// a different phone misses the memo
	if _, err := svc.Check(context.Background(), b, "+15550002", memo); err != nil {
		t.Fatal(err)
	}
	if dnd.calls != 2 {
		t.Errorf("DND registry consulted %d times for two phones, want 2", dnd.calls)
	}
}

func TestVerdictCacheSharesOneAnswerPerTick(t *testing.T) {
	dnd := &countingDND{verdict: DNDAllowed}
	svc := &ComplianceService{DND: dnd, OptOutRepo: &memOptOutRepo{newMemStore()}}
	b := complianceBroadcast(true, true)
	cache := newVerdictCache()

	for i := 0; i < 5; i++ {
		if _, err := cache.check(context.Background(), svc, b, "+15550001"); err != nil {
			t.Fatal(err)
		}
	}
	if dnd.calls != 1 {
		t.Errorf("DND registry consulted %d times through the cache, want 1", dnd.calls)
	}
}

func TestHTTPDNDCheckerMapsRegistryAnswers(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("phone") == "" {
			t.Error("registry queried without a phone parameter")
		}
		w.WriteHeader(status)
	}))
	checker := NewHTTPDNDChecker(srv.URL)

	cases := []struct {
		code int
		want string
	}{
		{http.StatusOK, DNDAllowed},
		{http.StatusForbidden, DNDBlocked},
		{http.StatusInternalServerError, DNDUnchecked},
	}
	for _, tc := range cases {
		status = tc.code
		if got := checker.Check(context.Background(), "+15550001"); got != tc.want {
			t.Errorf("registry %d -> %s, want %s", tc.code, got, tc.want)
		}
	}

	// an unreachable registry is advisory, not a dial blocker
	srv.Close()
	if got := checker.Check(context.Background(), "+15550001"); got != DNDUnchecked {
		t.Errorf("unreachable registry -> %s, want unchecked", got)
	}
}

func TestExpiredOptOutIsInactive(t *testing.T) {
	store := newMemStore()
	optOuts := &memOptOutRepo{store}
	if err := optOuts.Upsert("+15550001", model.OptOutSourceManual, -time.Minute, nil); err != nil {
		t.Fatal(err)
	}
	svc := &ComplianceService{DND: staticDND{DNDUnchecked}, OptOutRepo: optOuts}

	v, err := svc.Check(context.Background(), complianceBroadcast(false, true), "+15550001", nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.OptedOut {
		t.Error("expired opt-out still treated as active")
	}
}
