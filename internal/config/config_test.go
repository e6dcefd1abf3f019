package config

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"
)

// newTestViper returns a viper instance holding the defaults.
func newTestViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	return v
}

// TestLoad_Defaults verifies the defaults pass validation.
func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newTestViper())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Digest != "blake3" || cfg.KeyWidth != 16 || cfg.Workers != 8 {
		t.Errorf("unexpected defaults %+v", cfg)
	}

	d, err := cfg.Deriver()
	if err != nil {
		t.Fatal(err)
	}

	if d.KeyWidth() != 16 {
		t.Errorf("key width %d, want 16", d.KeyWidth())
	}
}

// TestLoad_Invalid verifies out of range values are rejected.
func TestLoad_Invalid(t *testing.T) {
	cases := map[string]any{
		"digest":       "md5",
		"key_width":    33,
		"workers":      0,
		"log_level":    "loud",
		"metrics_addr": "nope",
	}

	for key, value := range cases {
		v := newTestViper()
		v.Set(key, value)

		_, err := Load(v)

		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			t.Errorf("%s=%v: expected validation error, got %v", key, value, err)
		}
	}
}

// TestLoad_DataPath verifies a data path is only required on disk.
func TestLoad_DataPath(t *testing.T) {
	v := newTestViper()
	v.Set("data_path", "")

	if _, err := Load(v); err == nil {
		t.Error("expected error without data path")
	}

	v.Set("in_memory", true)

	if _, err := Load(v); err != nil {
		t.Errorf("in-memory config rejected: %v", err)
	}
}

// TestConfig_SHA3Deriver verifies the digest selection changes derived keys.
func TestConfig_SHA3Deriver(t *testing.T) {
	v := newTestViper()
	v.Set("digest", "sha3")

	cfg, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}

	sha, err := cfg.Deriver()
	if err != nil {
		t.Fatal(err)
	}

	cfg.Digest = "blake3"

	blake, err := cfg.Deriver()
	if err != nil {
		t.Fatal(err)
	}

	txn := uint256.NewInt(42)
	if sha.Key(txn, 0) == blake.Key(txn, 0) {
		t.Error("expected different keys for different digests")
	}
}
