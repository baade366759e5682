package config

import (
	"testing"
	"time"
)

func TestChallengeRetentionIndependentFromDeliveryRetention(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	// Хвост challenge в Redis — часы, журнал доставки живёт дольше
	if cfg.ChallengeRetention != 24*time.Hour {
		t.Fatalf("ожидали дефолт 24h, получили %v", cfg.ChallengeRetention)
	}
	if cfg.DeliveryRetention != 720*time.Hour {
		t.Fatalf("ожидали дефолт 720h, получили %v", cfg.DeliveryRetention)
	}
	if cfg.ChallengeRetention >= cfg.DeliveryRetention {
		t.Fatalf("окно challenge не должно быть не меньше окна журнала: %v >= %v",
			cfg.ChallengeRetention, cfg.DeliveryRetention)
	}
}

func TestChallengeRetentionOverride(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_CHALLENGE_RETENTION", "6h")
	t.Setenv("DELIVERY_RETENTION", "168h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ChallengeRetention != 6*time.Hour {
		t.Fatalf("ожидали 6h, получили %v", cfg.ChallengeRetention)
	}
	if cfg.DeliveryRetention != 168*time.Hour {
		t.Fatalf("ожидали 168h, получили %v", cfg.DeliveryRetention)
	}
}

func TestResendCooldownMustBeShorterThanCodeTTL(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("OTP_RESEND_COOLDOWN", "10m")
	t.Setenv("OTP_CODE_TTL", "10m")

	if _, err := Load(); err == nil {
		t.Fatal("ожидали ошибку валидации cooldown >= ttl")
	}
}
