package domain

type TemplateKind string

const (
	TemplateOrderConfirmation    TemplateKind = "order_confirmation"
	TemplatePaymentRejected      TemplateKind = "payment_rejected"
	TemplateTransferInstructions TemplateKind = "transfer_instructions"
)

type Notification struct {
	Kind      TemplateKind  `json:"kind"`
	Recipient string        `json:"recipient"`
	Order     OrderSnapshot `json:"order"`
}
