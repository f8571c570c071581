package entitlement

import (
	"fmt"

	"appraisalstudio_backend/internal/model"
)

// Unlimited is the usage-limit sentinel for plans without a generation cap.
const Unlimited = -1

type PlanLimits struct {
	Label        string
	MonthlyPrice float64
	UsageLimit   int
}

var PlanFeatures = map[model.Plan]PlanLimits{
	model.PlanFree: {
		Label:        "Free",
		MonthlyPrice: 0,
		UsageLimit:   model.FreeUsageLimit,
	},
	model.PlanProfessional: {
		Label:        "Professional",
		MonthlyPrice: 29,
		UsageLimit:   100,
	},
	model.PlanAgency: {
		Label:        "Agency",
		MonthlyPrice: 99,
		UsageLimit:   Unlimited,
	},
}

// CanGenerate reports whether the user may produce one more generation. It is
// a pure function of the record handed in; callers must pass the freshly
// loaded record, not a cached copy, to keep the race window small.
func CanGenerate(u *model.User) bool {
	if u.Plan == model.PlanAgency || u.UsageLimit == Unlimited {
		return true
	}
	return u.UsageCount < u.UsageLimit
}

// Remaining returns the generations left in the current period, or the
// Unlimited sentinel for uncapped plans.
func Remaining(u *model.User) int {
	if u.Plan == model.PlanAgency || u.UsageLimit == Unlimited {
		return Unlimited
	}
	if left := u.UsageLimit - u.UsageCount; left > 0 {
		return left
	}
	return 0
}

func GetPlanLimits(plan model.Plan) PlanLimits {
	if limits, ok := PlanFeatures[plan]; ok {
		return limits
	}
	return PlanFeatures[model.PlanFree]
}

// PlanForPrice resolves a Stripe price ID against the configured price map.
// An unknown price is a configuration error, not a default: the caller must
// drop the event rather than silently granting or revoking entitlements.
func PlanForPrice(priceID string, prices map[string]model.Plan) (model.Plan, error) {
	if plan, ok := prices[priceID]; ok {
		return plan, nil
	}
	return "", fmt.Errorf("no plan mapped for stripe price %q", priceID)
}
