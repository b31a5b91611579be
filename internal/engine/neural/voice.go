package neural

import (
	"errors"
	"strings"
)

// ErrNoVoices is returned by Speak when the voice bank is empty.
var ErrNoVoices = errors.New("no neural voices available")

// Voice is one synthesizable voice and the language its text is tokenized with.
type Voice struct {
	Name     string
	Language string
}

// VoiceBank is the fixed, ordered set of voices the backend offers.
type VoiceBank struct {
	voices []Voice
}

func NewVoiceBank(voices []Voice) *VoiceBank {
	bank := &VoiceBank{}
	for _, v := range voices {
		if strings.TrimSpace(v.Name) == "" {
			continue
		}
		bank.voices = append(bank.voices, v)
	}
	return bank
}

func (b *VoiceBank) Names() []string {
	names := make([]string, 0, len(b.voices))
	for _, v := range b.voices {
		names = append(names, v.Name)
	}
	return names
}

// Resolve returns the named voice, falling back to the first voice when name
// is empty or unknown. The bool reports whether the fallback was used.
func (b *VoiceBank) Resolve(name string) (Voice, bool, error) {
	if len(b.voices) == 0 {
		return Voice{}, false, ErrNoVoices
	}
	for _, v := range b.voices {
		if strings.EqualFold(v.Name, name) {
			return v, false, nil
		}
	}
	return b.voices[0], name != "", nil
}
