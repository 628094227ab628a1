package service

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/model"
	"github.com/unclebandit/voicecast-backend/internal/repository"
)

// DND check outcomes.
const (
	DNDAllowed   = "allowed"
	DNDBlocked   = "blocked"
	DNDUnchecked = "unchecked"
)

// DNDChecker consults the external do-not-disturb registry.
type DNDChecker interface {
	Check(ctx context.Context, phone string) string
}

// NoopDNDChecker is used when no registry is configured; every number
// comes back unchecked.
type NoopDNDChecker struct{}

func (NoopDNDChecker) Check(ctx context.Context, phone string) string { return DNDUnchecked }

// HTTPDNDChecker queries a registry endpoint. Any transport failure
// degrades to unchecked; the registry is advisory.
type HTTPDNDChecker struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPDNDChecker(endpoint string) *HTTPDNDChecker {
	return &HTTPDNDChecker{Endpoint: endpoint, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (c *HTTPDNDChecker) Check(ctx context.Context, phone string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?phone="+url.QueryEscape(phone), nil)
	if err != nil {
		return DNDUnchecked
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		log.Println("⚠️ DND registry unreachable:", err)
		return DNDUnchecked
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return DNDAllowed
	case http.StatusForbidden:
		return DNDBlocked
	default:
		return DNDUnchecked
	}
}

// Verdict is the compliance outcome for one call within a tick.
type Verdict struct {
	DNDStatus string
	Blocked   bool // DND says do not dial; call fails without retry
	OptedOut  bool // active opt-out; call is marked opted_out
}

// ComplianceService applies the pre-dial checks in fixed order: DND
// first (when the broadcast respects it), then the opt-out store. Both
// answers are memoized per phone so re-asking within a dispatch tick is
// idempotent.
type ComplianceService struct {
	DND        DNDChecker
	OptOutRepo repository.OptOutRepositoryInterface
}

// Check runs the filter for one call. memo carries per-tick answers and
// may be nil for a one-off check.
func (s *ComplianceService) Check(ctx context.Context, b *model.Broadcast, phone string, memo map[string]Verdict) (Verdict, error) {
	if memo != nil {
		if v, ok := memo[phone]; ok {
			return v, nil
		}
	}

	v := Verdict{DNDStatus: DNDUnchecked}

	if b.Config.Compliance.DNDRespect {
		v.DNDStatus = s.DND.Check(ctx, phone)
		if v.DNDStatus == DNDBlocked {
			v.Blocked = true
			if memo != nil {
				memo[phone] = v
			}
			return v, nil
		}
	}

	if b.Config.Compliance.OptOutEnabled {
		active, err := s.OptOutRepo.IsActive(phone)
		if err != nil {
			return v, err
		}
		v.OptedOut = active
	}

	if memo != nil {
		memo[phone] = v
	}
	return v, nil
}
