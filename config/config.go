package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration parameters.
type Config struct {
	DatabaseURL  string
	JWTSecretKey string
	ServerPort   int

	// Admission policy when a requested resource is full: "reject" or
	// "waitlist".
	FullResourcePolicy string
	// AutoPromoteWaitlist enables automatic FIFO promotion when a
	// cancellation frees a slot. When off, promotion happens only through an
	// admin edit.
	AutoPromoteWaitlist bool
	// PendingPaymentTTL is how long an unpaid pending registration survives
	// before the sweep cancels it. Zero disables the sweep.
	PendingPaymentTTL time.Duration
	SweepInterval     time.Duration

	PaymentProviderBaseURL string
	PaymentProviderAPIKey  string
	PaymentProviderName    string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicBaseURL   string
}

// Load reads configuration from environment variables. A local .env file is
// picked up when present; its absence is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is not set")
	}

	jwtKey := os.Getenv("JWT_SECRET_KEY")
	if jwtKey == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY environment variable is not set")
	}

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	policy := os.Getenv("FULL_RESOURCE_POLICY")
	if policy == "" {
		policy = "waitlist"
	}
	if policy != "reject" && policy != "waitlist" {
		return nil, fmt.Errorf("FULL_RESOURCE_POLICY must be \"reject\" or \"waitlist\", got %q", policy)
	}

	pendingTTL, err := durationEnv("PENDING_PAYMENT_TTL", 72*time.Hour)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := durationEnv("SWEEP_INTERVAL", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	smtpPort, err := intEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}

	providerName := os.Getenv("PAYMENT_PROVIDER_NAME")
	if providerName == "" {
		providerName = "stripe"
	}

	cfg := &Config{
		DatabaseURL:  dbURL,
		JWTSecretKey: jwtKey,
		ServerPort:   port,

		FullResourcePolicy:  policy,
		AutoPromoteWaitlist: os.Getenv("AUTO_PROMOTE_WAITLIST") != "false",
		PendingPaymentTTL:   pendingTTL,
		SweepInterval:       sweepInterval,

		PaymentProviderBaseURL: os.Getenv("PAYMENT_PROVIDER_BASE_URL"),
		PaymentProviderAPIKey:  os.Getenv("PAYMENT_PROVIDER_API_KEY"),
		PaymentProviderName:    providerName,

		SMTPHost: os.Getenv("SMTP_HOST"),
		SMTPPort: smtpPort,
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		SMTPFrom: os.Getenv("SMTP_FROM"),

		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
		R2PublicBaseURL:   os.Getenv("R2_PUBLIC_BASE_URL"),
	}

	return cfg, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", name, err)
	}
	return v, nil
}
