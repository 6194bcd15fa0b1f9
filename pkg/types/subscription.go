package types

type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanAgency  Plan = "agency"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanPro, PlanAgency:
		return true
	}
	return false
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

// Entitling reports whether the status grants paid access.
func (s SubscriptionStatus) Entitling() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// BillingEventType is the canonical event kind produced by normalization.
type BillingEventType string

const (
	BillingEventTypeCheckoutCompleted    BillingEventType = "checkout_completed"
	BillingEventTypeSubscriptionCreated  BillingEventType = "subscription_created"
	BillingEventTypeSubscriptionUpdated  BillingEventType = "subscription_updated"
	BillingEventTypeSubscriptionCanceled BillingEventType = "subscription_canceled"
)

type AccessReason string

const (
	AccessReasonUnauthenticated AccessReason = "unauthenticated"
	AccessReasonNotSubscribed   AccessReason = "not_subscribed"
	AccessReasonInactive        AccessReason = "inactive"
)

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonWebhook   SubscriptionChangeReason = "webhook"
	SubscriptionChangeReasonReconcile SubscriptionChangeReason = "reconcile"
)
