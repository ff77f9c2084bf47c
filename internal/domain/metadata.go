package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"maps"
)

// PaymentMetadata is the JSON document stored next to a payment. The loyalty
// keys are explicit; whatever the provider echoes back lives in Provider.
type PaymentMetadata struct {
	Currency                  string            `json:"currency,omitempty"`
	LoyaltyExternalCustomerID string            `json:"loyaltyExternalCustomerId,omitempty"`
	LoyaltyPointsEarned       *int64            `json:"loyaltyPointsEarned,omitempty"`
	LoyaltyPointsRedeemed     int64             `json:"loyaltyPointsRedeemed,omitempty"`
	Provider                  map[string]string `json:"provider,omitempty"`
}

func (m PaymentMetadata) HasLoyalty() bool {
	return m.LoyaltyExternalCustomerID != ""
}

// Clone returns a copy that shares no mutable state with m.
func (m PaymentMetadata) Clone() PaymentMetadata {
	out := m
	if m.LoyaltyPointsEarned != nil {
		v := *m.LoyaltyPointsEarned
		out.LoyaltyPointsEarned = &v
	}
	out.Provider = maps.Clone(m.Provider)
	return out
}

// MergeProvider copies provider echo data into the metadata.
func (m *PaymentMetadata) MergeProvider(echo map[string]string) {
	if len(echo) == 0 {
		return
	}
	if m.Provider == nil {
		m.Provider = make(map[string]string, len(echo))
	}
	maps.Copy(m.Provider, echo)
}

func (m PaymentMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *PaymentMetadata) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*m = PaymentMetadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("payment metadata: unsupported type %T", src)
	}
	var out PaymentMetadata
	if err := json.Unmarshal(b, &out); err != nil {
		return fmt.Errorf("payment metadata: %w", err)
	}
	*m = out
	return nil
}
