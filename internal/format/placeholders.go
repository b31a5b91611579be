package format

import (
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-announcer/internal/events"
)

type resolver func(events.Event) string

func username(e events.Event) string { return e.Meta().Username }

// placeholders is the explicit (kind, name) resolution table. Names missing
// from a kind's row resolve to nothing.
var placeholders = map[events.Kind]map[string]resolver{
	events.KindDonation: {
		"username": username,
		"amount": func(e events.Event) string {
			d := e.(events.Donation)
			if d.Type == events.DonationBits {
				return formatBits(int64(d.Amount))
			}
			return formatMoney(d.Amount, d.Currency)
		},
		"currency": func(e events.Event) string {
			d := e.(events.Donation)
			return currencyName(d.Currency, d.Amount)
		},
		"message": func(e events.Event) string { return e.(events.Donation).Message },
	},
	events.KindSubscription: {
		"username": username,
		"gifter": func(e events.Event) string {
			s := e.(events.Subscription)
			if s.Gifter != "" {
				return s.Gifter
			}
			return s.Username
		},
		"recipient": func(e events.Event) string { return e.(events.Subscription).Recipient },
		"months":    func(e events.Event) string { return strconv.Itoa(e.(events.Subscription).Months) },
		"tier":      func(e events.Event) string { return formatTier(e.(events.Subscription).Tier) },
		"message":   func(e events.Event) string { return e.(events.Subscription).Message },
		"amount":    func(e events.Event) string { return strconv.Itoa(e.(events.Subscription).GiftCount) },
		"count":     func(e events.Event) string { return strconv.Itoa(e.(events.Subscription).GiftCount) },
	},
	events.KindMembership: {
		"username": username,
		"gifter":   func(e events.Event) string { return e.(events.Membership).Gifter },
		"months":   func(e events.Event) string { return strconv.Itoa(e.(events.Membership).Months) },
		"tier":     func(e events.Event) string { return e.(events.Membership).Level },
		"message":  func(e events.Event) string { return e.(events.Membership).Message },
		"amount":   func(e events.Event) string { return strconv.Itoa(e.(events.Membership).GiftCount) },
		"count":    func(e events.Event) string { return strconv.Itoa(e.(events.Membership).GiftCount) },
	},
	events.KindFollow: {
		"username": username,
	},
	events.KindRaid: {
		"username": username,
		"amount":   func(e events.Event) string { return strconv.Itoa(e.(events.Raid).Viewers) },
		"viewers":  func(e events.Event) string { return strconv.Itoa(e.(events.Raid).Viewers) },
	},
}

func resolve(evt events.Event, name string) (string, bool) {
	row, ok := placeholders[evt.Kind()]
	if !ok {
		return "", false
	}
	fn, ok := row[name]
	if !ok {
		return "", false
	}
	return strings.TrimSpace(fn(evt)), true
}

func formatTier(tier string) string {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "1000", "1":
		return "tier 1"
	case "2000", "2":
		return "tier 2"
	case "3000", "3":
		return "tier 3"
	case "prime":
		return "Prime"
	default:
		return tier
	}
}
