// Package events defines the closed set of stream events the announcer reads.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-announcer/internal/protocol"
)

// Kind discriminates event variants.
type Kind string

const (
	KindDonation     Kind = "donation"
	KindSubscription Kind = "subscription"
	KindMembership   Kind = "membership"
	KindFollow       Kind = "follow"
	KindRaid         Kind = "raid"
	KindUnknown      Kind = "unknown"
)

// Event is implemented by every variant. The set is closed; consumers switch
// on the concrete type.
type Event interface {
	Kind() Kind
	Meta() Base
}

// Base carries the fields shared by every event.
type Base struct {
	ID         string
	Platform   string
	Username   string
	ReceivedAt time.Time
}

func (b Base) Meta() Base { return b }

// DonationType selects the donation category and therefore its template and threshold.
type DonationType string

const (
	DonationBits         DonationType = "bits"
	DonationSuperChat    DonationType = "super_chat"
	DonationSuperSticker DonationType = "super_sticker"
	DonationMonetary     DonationType = "donation"
)

type Donation struct {
	Base
	Type     DonationType
	Amount   float64
	Currency string
	Message  string
}

func (Donation) Kind() Kind { return KindDonation }

// Subscription covers new subs, resubs and gifted subs. Months is cumulative.
type Subscription struct {
	Base
	Tier      string
	Months    int
	IsGift    bool
	GiftCount int
	Gifter    string
	Recipient string
	Message   string
}

func (Subscription) Kind() Kind { return KindSubscription }

type MembershipType string

const (
	MembershipNew            MembershipType = "new"
	MembershipMilestone      MembershipType = "milestone"
	MembershipGiftPurchase   MembershipType = "gift_purchase"
	MembershipGiftRedemption MembershipType = "gift_redemption"
)

type Membership struct {
	Base
	Type      MembershipType
	Level     string
	Months    int
	GiftCount int
	Gifter    string
	Message   string
}

func (Membership) Kind() Kind { return KindMembership }

type Follow struct {
	Base
}

func (Follow) Kind() Kind { return KindFollow }

type Raid struct {
	Base
	Viewers int
}

func (Raid) Kind() Kind { return KindRaid }

// Unknown wraps kinds the announcer does not speak (chat messages, polls, ...).
type Unknown struct {
	Base
	Name string
}

func (Unknown) Kind() Kind { return KindUnknown }

// FromEnvelope converts a wire envelope into its typed variant.
func FromEnvelope(env protocol.EventEnvelope) Event {
	base := Base{
		ID:         env.ID,
		Platform:   env.Platform,
		Username:   env.Username,
		ReceivedAt: env.ReceivedAt,
	}
	if base.ReceivedAt.IsZero() {
		base.ReceivedAt = time.Now().UTC()
	}

	switch Kind(strings.ToLower(strings.TrimSpace(env.Kind))) {
	case KindDonation:
		typ := DonationType(strings.ToLower(env.Type))
		switch typ {
		case DonationBits, DonationSuperChat, DonationSuperSticker:
		default:
			typ = DonationMonetary
		}
		return Donation{Base: base, Type: typ, Amount: env.Amount, Currency: env.Currency, Message: env.Message}
	case KindSubscription:
		return Subscription{
			Base:      base,
			Tier:      env.Tier,
			Months:    env.Months,
			IsGift:    env.IsGift,
			GiftCount: env.GiftCount,
			Gifter:    env.Gifter,
			Recipient: env.Recipient,
			Message:   env.Message,
		}
	case KindMembership:
		return Membership{
			Base:      base,
			Type:      MembershipType(strings.ToLower(env.Type)),
			Level:     env.Tier,
			Months:    env.Months,
			GiftCount: env.GiftCount,
			Gifter:    env.Gifter,
			Message:   env.Message,
		}
	case KindFollow:
		return Follow{Base: base}
	case KindRaid:
		return Raid{Base: base, Viewers: env.Viewers}
	default:
		return Unknown{Base: base, Name: env.Kind}
	}
}

// Decode parses a JSON envelope.
func Decode(data []byte) (Event, error) {
	var env protocol.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	if strings.TrimSpace(env.Kind) == "" {
		return nil, fmt.Errorf("decode event envelope: missing kind")
	}
	return FromEnvelope(env), nil
}
