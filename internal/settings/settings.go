// Package settings holds the user-facing TTS settings the announcer reads at
// speak time, and providers that keep a live snapshot of them.
package settings

import (
	"strings"
)

const (
	MinRate   = -10
	MaxRate   = 10
	MinVolume = 0
	MaxVolume = 100
)

// Settings is a read-only snapshot. Providers replace the whole value on
// change; consumers must not mutate it.
type Settings struct {
	Enabled   bool              `yaml:"enabled" toml:"enabled"`
	Engine    string            `yaml:"engine" toml:"engine"`
	Voices    map[string]string `yaml:"voices" toml:"voices"`
	Rate      int               `yaml:"rate" toml:"rate"`
	Volume    int               `yaml:"volume" toml:"volume"`
	Templates Templates         `yaml:"templates" toml:"templates"`
	Filters   Filters           `yaml:"filters" toml:"filters"`
}

// Templates maps each event category to its utterance template.
type Templates struct {
	Bits                 string `yaml:"bits" toml:"bits"`
	SuperChat            string `yaml:"super_chat" toml:"super_chat"`
	Donation             string `yaml:"donation" toml:"donation"`
	NewSub               string `yaml:"new_sub" toml:"new_sub"`
	Resub                string `yaml:"resub" toml:"resub"`
	GiftSub              string `yaml:"gift_sub" toml:"gift_sub"`
	GiftBomb             string `yaml:"gift_bomb" toml:"gift_bomb"`
	MemberNew            string `yaml:"member_new" toml:"member_new"`
	MemberMilestone      string `yaml:"member_milestone" toml:"member_milestone"`
	MemberGiftPurchase   string `yaml:"member_gift_purchase" toml:"member_gift_purchase"`
	MemberGiftRedemption string `yaml:"member_gift_redemption" toml:"member_gift_redemption"`
	Follow               string `yaml:"follow" toml:"follow"`
	Raid                 string `yaml:"raid" toml:"raid"`
}

// Filters holds per-category read flags and minimum thresholds.
type Filters struct {
	ReadBits               bool    `yaml:"read_bits" toml:"read_bits"`
	MinBits                int     `yaml:"min_bits" toml:"min_bits"`
	ReadSuperChats         bool    `yaml:"read_super_chats" toml:"read_super_chats"`
	MinSuperChatAmount     float64 `yaml:"min_super_chat_amount" toml:"min_super_chat_amount"`
	ReadDonations          bool    `yaml:"read_donations" toml:"read_donations"`
	MinDonationAmount      float64 `yaml:"min_donation_amount" toml:"min_donation_amount"`
	ReadSubscriptions      bool    `yaml:"read_subscriptions" toml:"read_subscriptions"`
	ReadNewMembers         bool    `yaml:"read_new_members" toml:"read_new_members"`
	ReadMemberMilestones   bool    `yaml:"read_member_milestones" toml:"read_member_milestones"`
	MinMilestoneMonths     int     `yaml:"min_milestone_months" toml:"min_milestone_months"`
	ReadMembershipGifts    bool    `yaml:"read_membership_gifts" toml:"read_membership_gifts"`
	MinMembershipGiftCount int     `yaml:"min_membership_gift_count" toml:"min_membership_gift_count"`
	ReadGiftRedemptions    bool    `yaml:"read_gift_redemptions" toml:"read_gift_redemptions"`
	ReadFollows            bool    `yaml:"read_follows" toml:"read_follows"`
	ReadRaids              bool    `yaml:"read_raids" toml:"read_raids"`
	MinRaidViewers         int     `yaml:"min_raid_viewers" toml:"min_raid_viewers"`
}

// DefaultTemplates returns the stock English templates.
func DefaultTemplates() Templates {
	return Templates{
		Bits:                 "{username} cheered {amount}! {message}",
		SuperChat:            "{username} sent a super chat of {amount}! {message}",
		Donation:             "{username} donated {amount}! {message}",
		NewSub:               "{username} just subscribed with {tier}!",
		Resub:                "{username} resubscribed for {months} months! {message}",
		GiftSub:              "{gifter} gifted a subscription to {recipient}!",
		GiftBomb:             "{gifter} gifted {amount} subscriptions!",
		MemberNew:            "{username} just became a member!",
		MemberMilestone:      "{username} has been a member for {months} months! {message}",
		MemberGiftPurchase:   "{username} gifted {amount} memberships!",
		MemberGiftRedemption: "{username} received a gifted membership from {gifter}!",
		Follow:               "{username} just followed!",
		Raid:                 "{username} raided with {amount} viewers!",
	}
}

// Default returns settings with TTS enabled on the system engine and every
// category read without thresholds.
func Default() Settings {
	return Settings{
		Enabled:   true,
		Engine:    "system",
		Voices:    map[string]string{},
		Rate:      0,
		Volume:    100,
		Templates: DefaultTemplates(),
		Filters: Filters{
			ReadBits:             true,
			ReadSuperChats:       true,
			ReadDonations:        true,
			ReadSubscriptions:    true,
			ReadNewMembers:       true,
			ReadMemberMilestones: true,
			ReadMembershipGifts:  true,
			ReadGiftRedemptions:  true,
			ReadFollows:          true,
			ReadRaids:            true,
		},
	}
}

// VoiceFor returns the voice selected for engineID, or "".
func (s *Settings) VoiceFor(engineID string) string {
	if s == nil || s.Voices == nil {
		return ""
	}
	if v, ok := s.Voices[engineID]; ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ClampedRate returns Rate limited to [MinRate, MaxRate].
func (s *Settings) ClampedRate() int {
	return clamp(s.Rate, MinRate, MaxRate)
}

// ClampedVolume returns Volume limited to [MinVolume, MaxVolume].
func (s *Settings) ClampedVolume() int {
	return clamp(s.Volume, MinVolume, MaxVolume)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
