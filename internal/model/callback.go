package model

// CallbackEnvelope is the canonical shape every provider callback is normalized
// into before the transaction engine sees it. The provider posts two different
// payload shapes; internal/gateways owns the normalization.
type CallbackEnvelope struct {
	Data   CallbackData   `json:"data"`
	Status CallbackStatus `json:"status"`
}

type CallbackData struct {
	Transaction CallbackTransaction `json:"transaction"`
}

type CallbackTransaction struct {
	ID            string `json:"id"`             // provider transaction id
	ReferenceID   string `json:"reference_id"`   // provider reference (airtel_reference_id)
	AirtelMoneyID string `json:"airtel_money_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	MSISDN        string `json:"msisdn"`
	StatusCode    string `json:"status"` // provider status vocabulary, e.g. TS/TF
}

type CallbackStatus struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ResponseCode string `json:"response_code"`
}

// HasTransaction reports whether the normalizer actually found a transaction
// object in the raw payload. A callback without one resolves to log-and-drop.
func (e CallbackEnvelope) HasTransaction() bool {
	t := e.Data.Transaction
	return t.ID != "" || t.ReferenceID != "" || t.AirtelMoneyID != ""
}
