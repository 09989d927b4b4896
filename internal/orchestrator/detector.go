package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/ramkansal/webscout/pkg/plugin"
)

// DefaultBlockBodyMarkers are fragments that only appear on bot-challenge
// interstitials, not on ordinary pages that merely embed a captcha widget.
var DefaultBlockBodyMarkers = []string{
	"cf-browser-verification",
	"cf_chl_opt",
	"/cdn-cgi/challenge-platform/",
	"checking your browser before accessing",
	"px-captcha",
	"captcha-delivery.com",
	"_incapsula_resource",
}

// Detector maps a method's raw answer to an attempt outcome. The marker
// sets come from configuration.
type Detector struct {
	RateLimitStatuses []int
	RateLimitBody     []string
	BlockStatuses     []int
	BlockBody         []string
}

// DefaultDetector treats 429 and 503 as rate limiting and 403 as a block.
func DefaultDetector() Detector {
	return Detector{
		RateLimitStatuses: []int{http.StatusTooManyRequests, http.StatusServiceUnavailable},
		BlockStatuses:     []int{http.StatusForbidden},
		BlockBody:         DefaultBlockBodyMarkers,
	}
}

// Verdict is the detector's reading of one attempt.
type Verdict struct {
	Kind   plugin.OutcomeKind
	Status int
	Detail string
	// Challenge is set when a body marker, rather than a status, showed a block.
	Challenge bool
}

// Inspect classifies a method's return values.
func (d Detector) Inspect(resp *plugin.Response, err error) Verdict {
	if err != nil {
		return d.inspectError(err)
	}
	if resp == nil {
		return Verdict{Kind: plugin.OutcomeFatal, Detail: "method returned no response"}
	}

	status := resp.StatusCode
	switch {
	case containsInt(d.RateLimitStatuses, status):
		return Verdict{Kind: plugin.OutcomeRateLimited, Status: status, Detail: http.StatusText(status)}
	case containsInt(d.BlockStatuses, status):
		return Verdict{Kind: plugin.OutcomeBlocked, Status: status, Detail: http.StatusText(status)}
	}

	lower := bytes.ToLower(resp.Body)
	if m, ok := findMarker(lower, d.RateLimitBody); ok {
		return Verdict{Kind: plugin.OutcomeRateLimited, Status: status, Detail: "body marker " + m}
	}
	if m, ok := findMarker(lower, d.BlockBody); ok {
		return Verdict{Kind: plugin.OutcomeBlocked, Status: status, Detail: "body marker " + m, Challenge: true}
	}

	if status >= 400 {
		return Verdict{Kind: plugin.OutcomeFatal, Status: status, Detail: fmt.Sprintf("unexpected status %d", status)}
	}
	return Verdict{Kind: plugin.OutcomeSuccess, Status: status}
}

func (d Detector) inspectError(err error) Verdict {
	var fe *plugin.FetchError
	if errors.As(err, &fe) {
		v := Verdict{Kind: fe.Kind, Status: fe.Status, Detail: err.Error()}
		if fe.Status > 0 && fe.Kind == plugin.OutcomeFatal {
			switch {
			case containsInt(d.RateLimitStatuses, fe.Status):
				v.Kind = plugin.OutcomeRateLimited
			case containsInt(d.BlockStatuses, fe.Status):
				v.Kind = plugin.OutcomeBlocked
			}
		}
		return v
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Verdict{Kind: plugin.OutcomeTimeout, Detail: err.Error()}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Verdict{Kind: plugin.OutcomeTimeout, Detail: err.Error()}
	}
	return Verdict{Kind: plugin.OutcomeFatal, Detail: err.Error()}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func findMarker(lowerBody []byte, markers []string) (string, bool) {
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && bytes.Contains(lowerBody, []byte(m)) {
			return m, true
		}
	}
	return "", false
}
