package command

import (
	"errors"
	"slices"
	"testing"

	"github.com/queued-dl/queued/server/internal"
)

const testURL = "https://www.youtube.com/watch?v=pwoAyLGOysU"

func TestBuildDefaults(t *testing.T) {
	argv, err := Build(testURL, internal.Options{})
	if err != nil {
		t.Fatal(err)
	}

	if argv[0] != testURL {
		t.Errorf("expected url first, got %s", argv[0])
	}
	for _, flag := range []string{"--newline", "--no-colors", "--no-playlist", "--no-exec"} {
		if !slices.Contains(argv, flag) {
			t.Errorf("missing base flag %s", flag)
		}
	}

	i := slices.Index(argv, "-o")
	if i < 0 || argv[i+1] != "%(title)s.%(ext)s" {
		t.Errorf("expected default output template, got %v", argv)
	}
}

func TestBuildDeterministic(t *testing.T) {
	opts := internal.Options{Format: "bestvideo+bestaudio", RateLimit: "2M"}

	a, err := Build(testURL, opts)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Build(testURL, opts)
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Equal(a, b) {
		t.Errorf("same inputs produced different vectors:\n%v\n%v", a, b)
	}
}

func TestBuildAudioOnly(t *testing.T) {
	argv, err := Build(testURL, internal.Options{
		AudioOnly:    true,
		AudioFormat:  "mp3",
		AudioQuality: "0",
	})
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Contains(argv, "-x") {
		t.Error("expected -x for audio-only")
	}
	if slices.Contains(argv, "-f") {
		t.Error("audio-only must not carry a video format selector")
	}

	i := slices.Index(argv, "--audio-format")
	if i < 0 || argv[i+1] != "mp3" {
		t.Errorf("expected --audio-format mp3, got %v", argv)
	}
}

func TestBuildOutputPathJoined(t *testing.T) {
	argv, err := Build(testURL, internal.Options{
		OutputPath:     "/downloads",
		OutputTemplate: "%(id)s.%(ext)s",
	})
	if err != nil {
		t.Fatal(err)
	}

	i := slices.Index(argv, "-o")
	if i < 0 || argv[i+1] != "/downloads/%(id)s.%(ext)s" {
		t.Errorf("expected joined output path, got %v", argv)
	}
}

func TestBuildSanitizesExtraArgs(t *testing.T) {
	argv, err := Build(testURL, internal.Options{
		ExtraArgs: []string{"--no-mtime", "", "$(rm -rf /)1;", "--embed-chapters && reboot"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if !slices.Contains(argv, "--no-mtime") {
		t.Error("safe extra arg was dropped")
	}
	for _, a := range argv {
		if a == "" {
			t.Error("empty arg survived sanitization")
		}
		if a == "--embed-chapters && reboot" {
			t.Error("shell metacharacters survived sanitization")
		}
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		url  string
		opts internal.Options
	}{
		{"empty url", "  ", internal.Options{}},
		{"audio-only with format", testURL, internal.Options{AudioOnly: true, Format: "best"}},
		{"audio quality out of range", testURL, internal.Options{AudioQuality: "11"}},
		{"audio quality not a number", testURL, internal.Options{AudioQuality: "high"}},
		{"negative retries", testURL, internal.Options{Retries: -1}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Build(c.url, c.opts)
			if !errors.Is(err, ErrInvalidOptions) {
				t.Errorf("expected ErrInvalidOptions, got %v", err)
			}
		})
	}
}
