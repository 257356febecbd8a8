package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

func TestDefaultModerationMatchesEnvDefaults(t *testing.T) {
	t.Parallel()

	var fromEnv Moderation
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &fromEnv,
		Lookuper: envconfig.MapLookuper(map[string]string{}),
	}); err != nil {
		t.Fatalf("process defaults: %v", err)
	}
	if fromEnv != DefaultModeration() {
		t.Fatalf("defaults diverged: env=%+v code=%+v", fromEnv, DefaultModeration())
	}
}

func TestModerationOverridesFromEnv(t *testing.T) {
	t.Parallel()

	var m Moderation
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target: &m,
		Lookuper: envconfig.MapLookuper(map[string]string{
			"CAPTCHA_TIMEOUT": "45s",
			"TRUST_BYPASS":    "3",
		}),
	}); err != nil {
		t.Fatalf("process overrides: %v", err)
	}
	if m.CaptchaTimeout != 45*time.Second {
		t.Fatalf("captcha timeout = %v", m.CaptchaTimeout)
	}
	if m.TrustBypass != 3 {
		t.Fatalf("trust bypass = %d", m.TrustBypass)
	}
	if m.FloodMute != time.Hour {
		t.Fatalf("flood mute should keep its default, got %v", m.FloodMute)
	}
}

func TestLineFormatterSortsFieldsAndEscapesNewlines(t *testing.T) {
	t.Parallel()

	f := &LineFormatter{NoColors: true}
	entry := log.NewEntry(log.New()).WithFields(log.Fields{
		"zeta":  1,
		"alpha": "a",
		"error": errors.New("boom"),
	})
	entry.Message = "two\nlines"
	entry.Level = log.WarnLevel

	out, err := f.Format(entry)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	line := string(out)
	if !strings.HasPrefix(line, "level=WARN ") {
		t.Fatalf("unexpected prefix: %q", line)
	}
	alpha := strings.Index(line, "alpha=")
	errIdx := strings.Index(line, "error=\"boom\"")
	zeta := strings.Index(line, "zeta=1")
	if alpha < 0 || errIdx < 0 || zeta < 0 || !(alpha < errIdx && errIdx < zeta) {
		t.Fatalf("fields not sorted: %q", line)
	}
	if strings.Count(line, "\n") != 1 || !strings.HasSuffix(line, "\n") {
		t.Fatalf("message newline not escaped: %q", line)
	}
}
