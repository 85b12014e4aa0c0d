// Package config loads runtime configuration from the process environment
// or a .env file, following the same two-step pattern the rest of this
// codebase's lineage uses: godotenv first, then os.LookupEnv with fallbacks.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable knob named in the external
// interfaces contract. Field names mirror the env var names without the
// underscores and without any DEFAULT_ prefix.
type Config struct {
	DatabaseURL string

	SMTPStartTLS bool

	ReservationLockSeconds int
	WorkerBatchSize        int
	DispatcherTickSeconds  int
	DayBoundaryTZ          string

	LogLevel string
}

// Load reads a .env file (if present) and then the process environment,
// applying the defaults documented in the external interfaces contract.
func Load() (*Config, error) {
	godotenv.Load()

	reservationLock, _ := strconv.Atoi(getEnv("DEFAULT_RESERVATION_LOCK_SECONDS", "30"))
	batchSize, _ := strconv.Atoi(getEnv("DEFAULT_WORKER_BATCH_SIZE", "20"))
	tickSeconds, _ := strconv.Atoi(getEnv("DISPATCHER_TICK_SECONDS", "15"))
	smtpStartTLS, _ := strconv.ParseBool(getEnv("SMTP_STARTTLS", "true"))

	cfg := &Config{
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		SMTPStartTLS:            smtpStartTLS,
		ReservationLockSeconds:  reservationLock,
		WorkerBatchSize:         batchSize,
		DispatcherTickSeconds:   tickSeconds,
		DayBoundaryTZ:           getEnv("DAY_BOUNDARY_TZ", "UTC"),
		LogLevel:                strings.ToUpper(getEnv("LOG_LEVEL", "INFO")),
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
