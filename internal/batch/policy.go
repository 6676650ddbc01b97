package batch

import (
	"strings"

	"github.com/Ruzakiff/crazygpt/internal/provider"
	internalsettings "github.com/Ruzakiff/crazygpt/internal/settings"
	log "github.com/sirupsen/logrus"
)

// FinalCostPolicy decides the ledger adjustment applied at the first terminal observation.
type FinalCostPolicy string

const (
	// PolicyCompleted debits one unit per completed request on top of the provisional cost.
	PolicyCompleted FinalCostPolicy = "completed"
	// PolicyNone treats the provisional cost as the whole price.
	PolicyNone FinalCostPolicy = "none"
	// PolicyRefundFailed credits back the provisional units of requests that did not complete.
	PolicyRefundFailed FinalCostPolicy = "refund_failed"
)

// ParsePolicy returns the named policy, falling back to PolicyCompleted.
func ParsePolicy(raw string) FinalCostPolicy {
	switch p := FinalCostPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case PolicyCompleted, PolicyNone, PolicyRefundFailed:
		return p
	case "":
		return PolicyCompleted
	default:
		log.Warnf("batch: unknown final cost policy %q, using %q", raw, PolicyCompleted)
		return PolicyCompleted
	}
}

// CurrentPolicy reads the policy from the settings snapshot.
func CurrentPolicy() FinalCostPolicy {
	return ParsePolicy(internalsettings.String(internalsettings.FinalCostPolicyKey, internalsettings.DefaultFinalCostPolicy))
}

// Adjustment returns the signed final ledger adjustment: positive debits, negative credits.
func (p FinalCostPolicy) Adjustment(provisional int64, counts provider.RequestCounts) int64 {
	switch p {
	case PolicyNone:
		return 0
	case PolicyRefundFailed:
		refund := counts.Total - counts.Completed
		refund = max(0, min(refund, provisional))
		return -refund
	default:
		return max(0, counts.Completed)
	}
}
