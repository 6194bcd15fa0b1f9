package types

type ResourceType string

const (
	ResourceTypeDiscovery ResourceType = "discovery"
	ResourceTypeCreative  ResourceType = "creative"
)

var ResourceTypes = []ResourceType{ResourceTypeDiscovery, ResourceTypeCreative}

func (r ResourceType) Valid() bool {
	return r == ResourceTypeDiscovery || r == ResourceTypeCreative
}

// PlanLimit holds monthly caps per resource. A nil cap means unlimited.
type PlanLimit struct {
	DiscoveriesPerMonth *int64 `json:"discoveries_per_month" mapstructure:"discoveries_per_month"`
	CreativesPerMonth   *int64 `json:"creatives_per_month" mapstructure:"creatives_per_month"`
}

// Limit returns the cap for resource and whether the resource is capped at all.
func (l PlanLimit) Limit(resource ResourceType) (int64, bool) {
	var v *int64
	switch resource {
	case ResourceTypeDiscovery:
		v = l.DiscoveriesPerMonth
	case ResourceTypeCreative:
		v = l.CreativesPerMonth
	default:
		return 0, true
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

func capOf(n int64) *int64 { return &n }

// DefaultPlanLimits is the built-in limit table.
var DefaultPlanLimits = map[Plan]PlanLimit{
	PlanFree:    {DiscoveriesPerMonth: capOf(10), CreativesPerMonth: capOf(20)},
	PlanStarter: {DiscoveriesPerMonth: capOf(100), CreativesPerMonth: capOf(200)},
	PlanPro:     {DiscoveriesPerMonth: capOf(500), CreativesPerMonth: capOf(1000)},
	PlanAgency:  {},
}

// MonthlyUsage is consumption in the current UTC calendar month.
type MonthlyUsage struct {
	Discoveries int64 `json:"discoveries"`
	Creatives   int64 `json:"creatives"`
}

func (u MonthlyUsage) Of(resource ResourceType) int64 {
	switch resource {
	case ResourceTypeDiscovery:
		return u.Discoveries
	case ResourceTypeCreative:
		return u.Creatives
	}
	return 0
}
