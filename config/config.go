package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"automail/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SequenceConfig tunes the automation engine tick
type SequenceConfig struct {
	TickInterval     time.Duration `json:"tick_interval"`
	TickTimeout      time.Duration `json:"tick_timeout"`
	ClaimBatch       int           `json:"claim_batch"`
	EnrollBatch      int           `json:"enroll_batch"`
	SendConcurrency  int           `json:"send_concurrency"`
	MaxSendAttempts  int           `json:"max_send_attempts"`
	RetryBackoff     time.Duration `json:"retry_backoff"`
	StaleProcessing  time.Duration `json:"stale_processing"`
	CancelOnGuard    bool          `json:"cancel_on_guard"`
	TagCatalogCron   string        `json:"tag_catalog_cron"`
	SenderResetCron  string        `json:"sender_reset_cron"`
	TrackingBaseURL  string        `json:"tracking_base_url"`
	UnsubscribeURL   string        `json:"unsubscribe_url"`
	EnrollRateLimit  int           `json:"enroll_rate_limit"`
}

type Config struct {
	Environment    string         `json:"environment"`
	EncryptionKey  string         `json:"-"`
	JWTSecret      string         `json:"-"`
	ServerPort     string         `json:"server_port"`
	DBHost         string         `json:"db_host"`
	DBPort         string         `json:"db_port"`
	DBUser         string         `json:"db_user"`
	DBPassword     string         `json:"-"`
	DBName         string         `json:"db_name"`
	DBSSLMode      string         `json:"db_ssl_mode"`
	DBMaxIdleConns int            `json:"db_max_idle_conns"`
	DBMaxOpenConns int            `json:"db_max_open_conns"`
	LogLevel       string         `json:"log_level"`
	SentryDSN      string         `json:"-"`
	MailTransport  string         `json:"mail_transport"` // smtp, sendgrid, log
	SendGridAPIKey string         `json:"-"`
	Redis          RedisConfig    `json:"redis"`
	Sequence       SequenceConfig `json:"sequence"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "automail"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		MailTransport:  getEnv("MAIL_TRANSPORT", "log"),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Sequence: SequenceConfig{
			TickInterval:    getEnvAsDuration("SEQUENCE_TICK_INTERVAL", time.Minute),
			TickTimeout:     getEnvAsDuration("SEQUENCE_TICK_TIMEOUT", 5*time.Minute),
			ClaimBatch:      getEnvAsInt("SEQUENCE_CLAIM_BATCH", 50),
			EnrollBatch:     getEnvAsInt("SEQUENCE_ENROLL_BATCH", 500),
			SendConcurrency: getEnvAsInt("SEQUENCE_SEND_CONCURRENCY", 5),
			MaxSendAttempts: getEnvAsInt("SEQUENCE_MAX_SEND_ATTEMPTS", 1),
			RetryBackoff:    getEnvAsDuration("SEQUENCE_RETRY_BACKOFF", 5*time.Minute),
			StaleProcessing: getEnvAsDuration("SEQUENCE_STALE_PROCESSING", 15*time.Minute),
			CancelOnGuard:   getEnvAsBool("SEQUENCE_CANCEL_ON_GUARD", false),
			TagCatalogCron:  getEnv("TAG_CATALOG_SCHEDULE", "0 3 * * *"),
			SenderResetCron: getEnv("SENDER_RESET_SCHEDULE", "0 0 * * *"),
			TrackingBaseURL: getEnv("TRACKING_BASE_URL", ""),
			UnsubscribeURL:  getEnv("UNSUBSCRIBE_URL", ""),
			EnrollRateLimit: getEnvAsInt("RATE_LIMIT_ENROLL", 30),
		},
	}

	if err := validate(AppConfig); err != nil {
		return err
	}

	logConfig()
	return nil
}

func validate(c Config) error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Environment == "production" && len(c.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes in production")
	}
	switch c.MailTransport {
	case "log", "smtp":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when MAIL_TRANSPORT=sendgrid")
		}
	default:
		return fmt.Errorf("unknown MAIL_TRANSPORT %q", c.MailTransport)
	}
	if c.Sequence.TickInterval <= 0 {
		return fmt.Errorf("SEQUENCE_TICK_INTERVAL must be positive")
	}
	if c.Sequence.TickTimeout <= 0 {
		return fmt.Errorf("SEQUENCE_TICK_TIMEOUT must be positive")
	}
	// a claim must outlive the tick that holds it, or the reaper hands it
	// to another worker while the first one may still send
	if c.Sequence.StaleProcessing > 0 && c.Sequence.StaleProcessing <= c.Sequence.TickTimeout {
		return fmt.Errorf("SEQUENCE_STALE_PROCESSING (%s) must be longer than SEQUENCE_TICK_TIMEOUT (%s)",
			c.Sequence.StaleProcessing, c.Sequence.TickTimeout)
	}
	if c.Sequence.MaxSendAttempts < 1 {
		return fmt.Errorf("SEQUENCE_MAX_SEND_ATTEMPTS must be at least 1")
	}
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

// MigrateDB creates the engine tables. The unique pairs on enrollments and
// scheduled sends carry the idempotency guarantees, so migration must not be skipped.
func MigrateDB(db *gorm.DB) error {
	return db.AutoMigrate(models.All()...)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Mail transport: %s", AppConfig.MailTransport)
	log.Printf("Sequence tick: every %s, claim batch %d, max attempts %d",
		AppConfig.Sequence.TickInterval,
		AppConfig.Sequence.ClaimBatch,
		AppConfig.Sequence.MaxSendAttempts)
}
