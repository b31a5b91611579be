package settings

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.yaml")
	writeFile(t, path, `
enabled: true
engine: neural
voices:
  neural: af_heart
rate: 4
filters:
  read_raids: true
  min_raid_viewers: 25
templates:
  raid: "{username} raided with {amount} viewers!"
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Engine != "neural" || s.VoiceFor("neural") != "af_heart" {
		t.Fatalf("unexpected engine/voice: %s/%s", s.Engine, s.VoiceFor("neural"))
	}
	if s.Filters.MinRaidViewers != 25 {
		t.Fatalf("expected raid threshold 25, got %d", s.Filters.MinRaidViewers)
	}
	if s.Templates.Follow != DefaultTemplates().Follow {
		t.Fatalf("expected default follow template to survive partial file")
	}
	if s.Volume != 100 {
		t.Fatalf("expected default volume, got %d", s.Volume)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.toml")
	writeFile(t, path, `
enabled = false
engine = "system"
volume = 40

[voices]
system = "en-us"

[filters]
read_bits = true
min_bits = 100
`)
	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Enabled {
		t.Fatal("expected disabled")
	}
	if s.Volume != 40 || s.Filters.MinBits != 100 || s.VoiceFor("system") != "en-us" {
		t.Fatalf("unexpected settings: %+v", s)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.ini")
	writeFile(t, path, "enabled=true")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestClamp(t *testing.T) {
	s := Settings{Rate: 42, Volume: -3}
	if s.ClampedRate() != MaxRate {
		t.Fatalf("expected rate clamp to %d, got %d", MaxRate, s.ClampedRate())
	}
	if s.ClampedVolume() != MinVolume {
		t.Fatalf("expected volume clamp to %d, got %d", MinVolume, s.ClampedVolume())
	}
}

func TestStaticSwap(t *testing.T) {
	p := NewStatic(Default())
	first := p.Current()
	next := Default()
	next.Enabled = false
	p.Set(next)
	if p.Current().Enabled {
		t.Fatal("expected swapped snapshot to be disabled")
	}
	if !first.Enabled {
		t.Fatal("previous snapshot must not be mutated")
	}
}

func TestFileProviderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.yaml")
	writeFile(t, path, "enabled: true\nengine: system\n")

	p, err := NewFileProvider(path, newLogger())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Watch(ctx)
	}()

	// give the watcher a moment to register
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "enabled: true\nengine: neural\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Current().Engine == "neural" {
			cancel()
			<-done
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected reload to pick up engine change, still %q", p.Current().Engine)
}

func TestFileProviderKeepsSnapshotOnBadReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tts.yaml")
	writeFile(t, path, "enabled: true\nengine: system\n")
	p, err := NewFileProvider(path, newLogger())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	writeFile(t, path, "enabled: [broken")
	if err := p.Reload(); err == nil {
		t.Fatal("expected parse error")
	}
	if p.Current().Engine != "system" {
		t.Fatal("expected previous snapshot to stay active")
	}
}
