package engine

import (
	"errors"
	"math"
	"testing"
)

func TestSpeedForRate(t *testing.T) {
	cases := map[int]float64{
		10:  1.5,
		-10: 0.5,
		0:   1.0,
		4:   1.2,
		-30: 0.5,
		40:  2.0,
	}
	for rate, want := range cases {
		if got := SpeedForRate(rate); math.Abs(got-want) > 1e-9 {
			t.Fatalf("rate %d: expected %v, got %v", rate, want, got)
		}
	}
}

func TestParamsClamp(t *testing.T) {
	p := NewParams()
	p.SetVoice("alto")
	p.SetRate(99)
	p.SetVolume(-5)
	voice, rate, volume := p.Snapshot()
	if voice != "alto" || rate != 10 || volume != 0 {
		t.Fatalf("unexpected snapshot %q %d %d", voice, rate, volume)
	}
}

func TestDone(t *testing.T) {
	if err, ok := <-Done(nil); ok || err != nil {
		t.Fatalf("expected closed channel without error, got %v %v", err, ok)
	}
	boom := errors.New("boom")
	ch := Done(boom)
	if err := <-ch; !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after error")
	}
}
