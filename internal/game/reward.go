package game

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RewardKind tags the Reward union.
type RewardKind string

const (
	RewardNone       RewardKind = ""
	RewardTokens     RewardKind = "tokens"
	RewardItem       RewardKind = "item"
	RewardConsumable RewardKind = "consumable"
	RewardUnknown    RewardKind = "unknown"
)

// TokenReward is a fungible currency amount.
type TokenReward struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

// ItemReward is a single inventory item.
type ItemReward struct {
	ItemID string `json:"itemId"`
	Name   string `json:"name,omitempty"`
	Rarity string `json:"rarity,omitempty"`
}

// ConsumableReward is a stack of usable items.
type ConsumableReward struct {
	ItemID   string  `json:"itemId"`
	Quantity int     `json:"quantity"`
	Duration float64 `json:"durationSec,omitempty"`
}

// Reward is the payload attached to a chest. The simulation never interprets
// it; it travels from the chest update to the claim commit unchanged.
//
// Wire form is a flat object with a "kind" discriminator. Unrecognized kinds
// decode to RewardUnknown and keep the original bytes in Raw.
type Reward struct {
	Kind       RewardKind
	Tokens     *TokenReward
	Item       *ItemReward
	Consumable *ConsumableReward
	Raw        json.RawMessage
}

// IsZero reports whether no reward was attached.
func (r Reward) IsZero() bool {
	return r.Kind == RewardNone
}

// MarshalJSON implements json.Marshaler.
func (r Reward) MarshalJSON() ([]byte, error) {
	var body any
	switch r.Kind {
	case RewardNone:
		return []byte("null"), nil
	case RewardTokens:
		body = r.Tokens
	case RewardItem:
		body = r.Item
	case RewardConsumable:
		body = r.Consumable
	default:
		if len(r.Raw) == 0 {
			return []byte("null"), nil
		}
		return r.Raw, nil
	}
	if body == nil {
		return nil, fmt.Errorf("reward kind %q has no payload", r.Kind)
	}

	fields, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"kind":%q`, r.Kind)
	if len(fields) > 2 { // not "{}"
		buf.WriteByte(',')
		buf.Write(fields[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Reward) UnmarshalJSON(data []byte) error {
	*r = Reward{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var head struct {
		Kind RewardKind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("reward: %w", err)
	}

	switch head.Kind {
	case RewardTokens:
		r.Tokens = &TokenReward{}
		if err := json.Unmarshal(data, r.Tokens); err != nil {
			return fmt.Errorf("tokens reward: %w", err)
		}
	case RewardItem:
		r.Item = &ItemReward{}
		if err := json.Unmarshal(data, r.Item); err != nil {
			return fmt.Errorf("item reward: %w", err)
		}
	case RewardConsumable:
		r.Consumable = &ConsumableReward{}
		if err := json.Unmarshal(data, r.Consumable); err != nil {
			return fmt.Errorf("consumable reward: %w", err)
		}
	default:
		r.Kind = RewardUnknown
		r.Raw = append(json.RawMessage(nil), data...)
		return nil
	}
	r.Kind = head.Kind
	return nil
}

// String summarizes the reward for logs.
func (r Reward) String() string {
	switch r.Kind {
	case RewardNone:
		return "none"
	case RewardTokens:
		return fmt.Sprintf("%d %s", r.Tokens.Amount, r.Tokens.Currency)
	case RewardItem:
		return "item " + r.Item.ItemID
	case RewardConsumable:
		return fmt.Sprintf("%dx %s", r.Consumable.Quantity, r.Consumable.ItemID)
	default:
		return "unknown"
	}
}
