//go:build nocgo

package device

import "errors"

var ErrClosed = errors.New("audio device closed")

// ErrUnavailable is returned by Open in builds without cgo audio support.
var ErrUnavailable = errors.New("audio device support not compiled in (nocgo build)")

type Player struct {
	*Stream
}

func Open(sampleRate, channels, bufferMS int) (*Player, error) {
	return nil, ErrUnavailable
}

func (p *Player) Close() error {
	p.Stream.close()
	return nil
}
