package protocol

import "time"

// EventEnvelope is the wire shape of a stream event published by platform
// connectors. Fields that do not apply to a kind are left empty.
type EventEnvelope struct {
	ID         string    `json:"id,omitempty"`
	Kind       string    `json:"kind"`
	Type       string    `json:"type,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	Username   string    `json:"username"`
	Amount     float64   `json:"amount,omitempty"`
	Currency   string    `json:"currency,omitempty"`
	Message    string    `json:"message,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Months     int       `json:"months,omitempty"`
	IsGift     bool      `json:"is_gift,omitempty"`
	GiftCount  int       `json:"gift_count,omitempty"`
	Gifter     string    `json:"gifter,omitempty"`
	Recipient  string    `json:"recipient,omitempty"`
	Viewers    int       `json:"viewers,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// SayRequest asks the announcer to speak raw text.
type SayRequest struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// AudioChunk carries PCM16LE samples produced by the neural engine.
type AudioChunk struct {
	UtteranceID string `json:"utterance_id,omitempty"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Sequence    int    `json:"sequence"`
	PCM         []byte `json:"pcm"`
}

// UtteranceStatus reports the terminal state of one utterance.
type UtteranceStatus struct {
	UtteranceID string    `json:"utterance_id"`
	Text        string    `json:"text"`
	Engine      string    `json:"engine,omitempty"`
	Voice       string    `json:"voice,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectStreamEventPrefix = "stream.events"
	SubjectSay               = "tts.say"
	SubjectAudioOut          = "tts.audio.out"
	SubjectUtteranceStatus   = "tts.utterance.status"
)
