package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MemoryStore(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HOLD_DURATION", "90s")
	t.Setenv("HOLD_REFRESH_ON_ADD", "false")
	t.Setenv("RATE_LIMIT_CAPACITY", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 90*time.Second, cfg.Hold.Duration)
	assert.False(t, cfg.Hold.RefreshOnAdd)
	assert.Equal(t, 20, cfg.Hold.MaxNumbers)
	assert.Equal(t, 5*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, "payment.captured", cfg.RabbitMQ.CapturedQueue)
	// normalized
	assert.Equal(t, 1, cfg.RateLimit.Capacity)
	assert.GreaterOrEqual(t, cfg.RateLimit.TTL, 5*cfg.RateLimit.RefillInterval)
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STORE_DRIVER", "memory")
	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			JWT:     JWTConfig{Secret: "x"},
			Store:   StoreConfig{Driver: "mysql"},
			DB:      DBConfig{User: "u", Host: "h", Port: "3306", Name: "raffle"},
			Hold:    HoldConfig{Duration: time.Minute},
			Sweep:   SweepConfig{Interval: time.Second},
			Events:  EventsConfig{QueueSize: 1},
			Breaker: BreakerConfig{FailureRatio: 0.5},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"DB_NAME":               func(c *Config) { c.DB.Name = "" },
		"STORE_DRIVER":          func(c *Config) { c.Store.Driver = "postgres" },
		"HOLD_DURATION":         func(c *Config) { c.Hold.Duration = 0 },
		"SWEEP_INTERVAL":        func(c *Config) { c.Sweep.Interval = -time.Second },
		"HOLD_MAX_NUMBERS":      func(c *Config) { c.Hold.MaxNumbers = -1 },
		"EVENTS_QUEUE_SIZE":     func(c *Config) { c.Events.QueueSize = 0 },
		"BREAKER_FAILURE_RATIO": func(c *Config) { c.Breaker.FailureRatio = 1.5 },
	}
	for want, mutate := range cases {
		t.Run(want, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.ErrorContains(t, c.Validate(), want)
		})
	}

	c := valid()
	c.Store.Driver = "memory"
	c.DB = DBConfig{}
	assert.NoError(t, c.Validate())
}

func TestCacheConfig_MethodSet(t *testing.T) {
	m := CacheConfig{Methods: " get, head ,,"}.MethodSet()
	assert.Equal(t, map[string]bool{"GET": true, "HEAD": true}, m)
}

func TestRedisConfig_Address(t *testing.T) {
	assert.Equal(t, "localhost:6379", RedisConfig{}.Address())
	assert.Equal(t, "redis:6380", RedisConfig{Addr: "redis:6380"}.Address())
	assert.Equal(t, "h:1", RedisConfig{Host: "h", Port: "1", Addr: "redis:6380"}.Address())
}

func TestNewRedisClient_Disabled(t *testing.T) {
	assert.Nil(t, NewRedisClient(RedisConfig{Enabled: false}))
}
