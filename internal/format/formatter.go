// Package format turns stream events into speakable utterances.
package format

import (
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/loqalabs/loqa-announcer/internal/events"
	"github.com/loqalabs/loqa-announcer/internal/settings"
)

// Any brace-delimited token without whitespace is a placeholder; names missing
// from the table render empty.
var placeholderPattern = regexp.MustCompile(`\{([^{}\s]+)\}`)

// Formatter is stateless apart from its logger; Format has no side effects
// other than debug logging.
type Formatter struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Formatter {
	return &Formatter{log: log.With(slog.String("component", "formatter"))}
}

// Format renders evt with the templates and filters of s. The boolean is false
// when the event is not eligible or renders to nothing.
func (f *Formatter) Format(evt events.Event, s *settings.Settings) (string, bool) {
	if evt == nil || s == nil {
		return "", false
	}
	template, ok := selectTemplate(evt, s)
	if !ok {
		return "", false
	}

	filled := placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.ToLower(token[1 : len(token)-1])
		value, ok := resolve(evt, name)
		if !ok {
			f.log.Debug("unresolved placeholder",
				slog.String("placeholder", name),
				slog.String("kind", string(evt.Kind())))
			return ""
		}
		return value
	})

	text := Normalize(collapseWhitespace(filled))
	if text == "" {
		return "", false
	}
	return text, true
}

func selectTemplate(evt events.Event, s *settings.Settings) (string, bool) {
	t := s.Templates
	d := settings.DefaultTemplates()
	flt := s.Filters

	switch e := evt.(type) {
	case events.Donation:
		switch e.Type {
		case events.DonationBits:
			if !flt.ReadBits || int(math.Floor(e.Amount)) < flt.MinBits {
				return "", false
			}
			return pick(t.Bits, d.Bits), true
		case events.DonationSuperChat, events.DonationSuperSticker:
			if !flt.ReadSuperChats || cents(e.Amount) < cents(flt.MinSuperChatAmount) {
				return "", false
			}
			return pick(t.SuperChat, d.SuperChat), true
		default:
			if !flt.ReadDonations || cents(e.Amount) < cents(flt.MinDonationAmount) {
				return "", false
			}
			return pick(t.Donation, d.Donation), true
		}
	case events.Subscription:
		if !flt.ReadSubscriptions {
			return "", false
		}
		switch {
		case e.IsGift && e.GiftCount > 1:
			return pick(t.GiftBomb, d.GiftBomb), true
		case e.IsGift:
			return pick(t.GiftSub, d.GiftSub), true
		case e.Months > 0:
			return pick(t.Resub, d.Resub), true
		default:
			return pick(t.NewSub, d.NewSub), true
		}
	case events.Membership:
		switch e.Type {
		case events.MembershipNew:
			if !flt.ReadNewMembers {
				return "", false
			}
			return pick(t.MemberNew, d.MemberNew), true
		case events.MembershipMilestone:
			if !flt.ReadMemberMilestones || e.Months < flt.MinMilestoneMonths {
				return "", false
			}
			return pick(t.MemberMilestone, d.MemberMilestone), true
		case events.MembershipGiftPurchase:
			if !flt.ReadMembershipGifts || e.GiftCount < flt.MinMembershipGiftCount {
				return "", false
			}
			return pick(t.MemberGiftPurchase, d.MemberGiftPurchase), true
		case events.MembershipGiftRedemption:
			if !flt.ReadGiftRedemptions {
				return "", false
			}
			return pick(t.MemberGiftRedemption, d.MemberGiftRedemption), true
		}
	case events.Follow:
		if !flt.ReadFollows {
			return "", false
		}
		return pick(t.Follow, d.Follow), true
	case events.Raid:
		if !flt.ReadRaids || e.Viewers < flt.MinRaidViewers {
			return "", false
		}
		return pick(t.Raid, d.Raid), true
	}
	return "", false
}

func pick(configured, fallback string) string {
	if strings.TrimSpace(configured) == "" {
		return fallback
	}
	return configured
}

// cents compares monetary amounts without float drift at the threshold.
func cents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
