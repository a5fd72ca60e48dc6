package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() must be self-valid, got: %v", err)
	}
}

func TestValidateRejectsMissingListen(t *testing.T) {
	cfg := Default()
	cfg.Listen = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty listen address")
	}
}

func TestValidateRejectsBadWireValue(t *testing.T) {
	cfg := Default()
	cfg.Wire = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unsupported wire codec")
	}
}

func TestValidateRequiresTokenHashWhenAdmissionEnabled(t *testing.T) {
	cfg := Default()
	cfg.Admission.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for admission enabled without a token hash")
	}
	cfg.Admission.TokenHash = "$argon2id$v=19$m=65536,t=1,p=4$salt$hash"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error once token_hash is set: %v", err)
	}
}

func TestValidateRequiresPeriodWhenRateLimitEnabled(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.Limit = 10
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for rate limiting enabled without a period")
	}
	cfg.RateLimit.Period = "1m"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error once period is set: %v", err)
	}
}

func TestValidateRequiresCertAndKeyWhenTLSEnabled(t *testing.T) {
	cfg := Default()
	cfg.TLS.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for tls enabled without cert/key files")
	}
}
