package orders

const (
	TopicOrderPlaced      = "storefront.order.placed"
	TopicPaymentConfirmed = "storefront.order.payment_confirmed"
	TopicContactSubmitted = "storefront.contact.submitted"
)

// Partition key = order number so every event of one order keeps its order.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
