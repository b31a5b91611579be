package playback

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loqalabs/loqa-announcer/internal/protocol"
)

// Publisher is the subset of *nats.Conn the bus sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// BusSink publishes every write as a PCM16 protocol.AudioChunk.
type BusSink struct {
	pub        Publisher
	subject    string
	sampleRate int
	channels   int

	mu          sync.Mutex
	utteranceID string
	sequence    int
}

func NewBusSink(pub Publisher, subject string, sampleRate, channels int) *BusSink {
	if subject == "" {
		subject = protocol.SubjectAudioOut
	}
	if channels <= 0 {
		channels = 1
	}
	return &BusSink{pub: pub, subject: subject, sampleRate: sampleRate, channels: channels}
}

// Label starts a new chunk sequence for utteranceID.
func (b *BusSink) Label(utteranceID string) {
	b.mu.Lock()
	b.utteranceID = utteranceID
	b.sequence = 0
	b.mu.Unlock()
}

func (b *BusSink) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	b.mu.Lock()
	chunk := protocol.AudioChunk{
		UtteranceID: b.utteranceID,
		SampleRate:  b.sampleRate,
		Channels:    b.channels,
		Sequence:    b.sequence,
		PCM:         PCM16(Interleave(samples, b.channels)),
	}
	b.sequence++
	b.mu.Unlock()

	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("encode audio chunk: %w", err)
	}
	if err := b.pub.Publish(b.subject, data); err != nil {
		return fmt.Errorf("publish audio chunk: %w", err)
	}
	return nil
}
