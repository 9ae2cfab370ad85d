package gateway

import (
	"encoding/json"

	"github.com/minibet/payment-gateway/internal/model"
)

// The provider posts callbacks in two known shapes: a flat
// {"transaction": {...}} and a nested {"data": {"transaction": {...}}}.
// Both are parsed explicitly; nothing here probes untyped maps.

type rawCallbackTransaction struct {
	ID            string      `json:"id"`
	AirtelMoneyID string      `json:"airtel_money_id"`
	ReferenceID   string      `json:"reference_id"`
	Reference     string      `json:"reference"` // alternate spelling seen in the wild
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	MSISDN        string      `json:"msisdn"`
	Status        string      `json:"status"`
	StatusCode    string      `json:"status_code"`
	Message       string      `json:"message"`
}

type flatCallback struct {
	Transaction *rawCallbackTransaction `json:"transaction"`
}

type nestedCallback struct {
	Data flatCallback `json:"data"`
}

// NormalizeCallback adapts either raw payload shape into the canonical
// envelope the transaction engine consumes. A payload without a transaction
// object yields an empty envelope, which the engine resolves to
// "no match, drop"; it is not an error surfaced to the provider.
func NormalizeCallback(payload []byte) (model.CallbackEnvelope, error) {
	var envelope model.CallbackEnvelope

	var nested nestedCallback
	if err := json.Unmarshal(payload, &nested); err != nil {
		return envelope, err
	}

	txn := nested.Data.Transaction
	if txn == nil {
		var flat flatCallback
		if err := json.Unmarshal(payload, &flat); err != nil {
			return envelope, err
		}
		txn = flat.Transaction
	}
	if txn == nil {
		return envelope, nil
	}

	statusCode := txn.Status
	if statusCode == "" {
		statusCode = txn.StatusCode
	}

	id := txn.ID
	if id == "" {
		id = txn.AirtelMoneyID
	}
	referenceID := txn.ReferenceID
	if referenceID == "" {
		referenceID = txn.Reference
	}
	airtelMoneyID := txn.AirtelMoneyID
	if airtelMoneyID == "" {
		airtelMoneyID = txn.ID
	}

	envelope.Data.Transaction = model.CallbackTransaction{
		ID:            id,
		ReferenceID:   referenceID,
		AirtelMoneyID: airtelMoneyID,
		Amount:        txn.Amount.String(),
		Currency:      txn.Currency,
		MSISDN:        txn.MSISDN,
		StatusCode:    statusCode,
	}
	envelope.Status = model.CallbackStatus{
		Success:      statusCode == TxnStatusSuccess || statusCode == TxnStatusSuccessAlt,
		Message:      txn.Message,
		ResponseCode: statusCode,
	}

	return envelope, nil
}
