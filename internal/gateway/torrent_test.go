package gateway

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"btbridge/internal/domain"
)

func TestValidateSourceMagnet(t *testing.T) {
	valid := "magnet:?xt=urn:btih:c9e15763f722f23e98a29decdfae341b98d53056"
	if err := ValidateSource(valid); err != nil {
		t.Errorf("valid magnet rejected: %v", err)
	}

	for _, source := range []string{
		"not-a-magnet",
		"magnet:?dn=missing-hash",
		"http://example.com/file.iso",
		"",
	} {
		err := ValidateSource(source)
		if !errors.Is(err, domain.ErrInvalidSource) {
			t.Errorf("ValidateSource(%q) = %v, want ErrInvalidSource", source, err)
		}
	}
}

func TestValidateSourceTorrentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linux.torrent")
	if err := os.WriteFile(path, []byte("d8:announce0:e"), 0o644); err != nil {
		t.Fatalf("write torrent file: %v", err)
	}
	if err := ValidateSource(path); err != nil {
		t.Errorf("existing .torrent rejected: %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing.torrent")
	if err := ValidateSource(missing); !errors.Is(err, domain.ErrInvalidSource) {
		t.Errorf("missing .torrent: got %v, want ErrInvalidSource", err)
	}
}

func TestRateLimiter(t *testing.T) {
	if lim := rateLimiter(0); lim != nil {
		t.Errorf("zero cap must mean unlimited, got %v", lim)
	}
	if lim := rateLimiter(-1); lim != nil {
		t.Errorf("negative cap must mean unlimited, got %v", lim)
	}

	lim := rateLimiter(1 << 20)
	if lim == nil {
		t.Fatal("cap of 1MiB/s produced no limiter")
	}
	if got := int64(lim.Limit()); got != 1<<20 {
		t.Errorf("limit = %d, want %d", got, 1<<20)
	}
	if lim.Burst() < 1<<20 {
		t.Errorf("burst = %d, want at least the per-second cap", lim.Burst())
	}

	// a tiny cap still needs a burst large enough for one chunk read
	small := rateLimiter(1024)
	if small.Burst() < 256<<10 {
		t.Errorf("burst = %d, too small for a chunk read", small.Burst())
	}
}

func TestParseHandle(t *testing.T) {
	handle := "c9e15763f722f23e98a29decdfae341b98d53056"
	hash, err := parseHandle(handle)
	if err != nil {
		t.Fatalf("parse handle: %v", err)
	}
	if hash.HexString() != handle {
		t.Errorf("round trip mismatch: %s", hash.HexString())
	}

	for _, bad := range []string{"", "zz", "c9e157"} {
		if _, err := parseHandle(bad); err == nil {
			t.Errorf("parseHandle(%q) accepted a malformed handle", bad)
		}
	}
}
