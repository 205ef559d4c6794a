package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // keep any developer .env out of the way
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.OperationTimeout)
	assert.False(t, cfg.Lifecycle.RequireDeliveryEvidence)
	assert.Equal(t, 5, cfg.Lifecycle.MaxDonationPhotos)
	assert.Equal(t, "local", cfg.Evidence.Backend)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "donation-notifications", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Tracing.Endpoint)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("OPERATION_TIMEOUT", "250ms")
	t.Setenv("REQUIRE_DELIVERY_EVIDENCE", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("REDIS_DB", "3")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 250*time.Millisecond, cfg.Lifecycle.OperationTimeout)
	assert.True(t, cfg.Lifecycle.RequireDeliveryEvidence)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3, cfg.Redis.DB)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MAX_DONATION_PHOTOS", "many")
	t.Setenv("OPERATION_TIMEOUT", "soon")
	t.Setenv("REQUIRE_DELIVERY_EVIDENCE", "maybe")

	cfg := Load()

	assert.Equal(t, 5, cfg.Lifecycle.MaxDonationPhotos)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.OperationTimeout)
	assert.False(t, cfg.Lifecycle.RequireDeliveryEvidence)
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which requires Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
