package fitbit

// Collection types that appear in webhook notifications
const (
	CollectionActivities        = "activities"
	CollectionBody              = "body"
	CollectionFoods             = "foods"
	CollectionSleep             = "sleep"
	CollectionUserRevokedAccess = "userRevokedAccess"
	CollectionDeleteUser        = "deleteUser"
)

// Notification is one record from a webhook notification batch.
// See https://dev.fitbit.com/build/reference/web-api/developer-guide/using-subscriptions/
type Notification struct {
	CollectionType string `json:"collectionType" validate:"required,oneof=activities body foods sleep userRevokedAccess deleteUser"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	OwnerID        string `json:"ownerId" validate:"required"`
	OwnerType      string `json:"ownerType"`
	SubscriptionID string `json:"subscriptionId" validate:"required"`
}

// ValidateNotification checks a notification record against the fixed
// schema. Records failing validation are never enqueued or processed.
func ValidateNotification(n *Notification) error {
	return validate.Struct(n)
}
