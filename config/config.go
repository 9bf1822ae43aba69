package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"voltcrm/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled      bool   `json:"enabled"`
	Address      string `json:"address"`
	Password     string `json:"-"`
	DB           int    `json:"db"`
	EventChannel string `json:"event_channel"`
}

type SMTPConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	From     string `json:"from"`
	FromName string `json:"from_name"`
}

type IMAPConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"-"`
	Mailbox  string `json:"mailbox"`
}

// WorkerConfig bounds each cron-style worker: how often it ticks and how
// much work one tick may do. A tick that hits its cap leaves the rest for
// the next one.
type WorkerConfig struct {
	ActivationInterval time.Duration `json:"activation_interval"`
	GeneratorInterval  time.Duration `json:"generator_interval"`
	DispatchInterval   time.Duration `json:"dispatch_interval"`
	ReplyInterval      time.Duration `json:"reply_interval"`

	BatchSize       int           `json:"batch_size"`
	MaxSendAttempts int           `json:"max_send_attempts"`
	StaleGenerating time.Duration `json:"stale_generating"`
	StaleProcessing time.Duration `json:"stale_processing"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	JWTSecret string `json:"-"`
	SentryDSN string `json:"-"`

	GenerationURL    string `json:"generation_url"`
	GenerationAPIKey string `json:"-"`

	SMTP   SMTPConfig   `json:"smtp"`
	IMAP   IMAPConfig   `json:"imap"`
	Redis  RedisConfig  `json:"redis"`
	Worker WorkerConfig `json:"worker"`
}

func init() {
	// Try to load .env, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "voltcrm"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		JWTSecret: getEnv("JWT_SECRET", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),

		GenerationURL:    getEnv("GENERATION_URL", ""),
		GenerationAPIKey: getEnv("GENERATION_API_KEY", ""),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM_EMAIL", ""),
			FromName: getEnv("SMTP_FROM_NAME", ""),
		},
		IMAP: IMAPConfig{
			Enabled:  getEnv("IMAP_HOST", "") != "",
			Host:     getEnv("IMAP_HOST", ""),
			Port:     getEnvAsInt("IMAP_PORT", 993),
			Username: getEnv("IMAP_USERNAME", ""),
			Password: getEnv("IMAP_PASSWORD", ""),
			Mailbox:  getEnv("IMAP_MAILBOX", "INBOX"),
		},
		Redis: RedisConfig{
			Enabled:      getEnv("REDIS_ADDRESS", "") != "",
			Address:      getEnv("REDIS_ADDRESS", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			EventChannel: getEnv("REDIS_EVENT_CHANNEL", "voltcrm:events"),
		},
		Worker: WorkerConfig{
			ActivationInterval: getEnvAsDuration("ACTIVATION_INTERVAL", 15*time.Minute),
			GeneratorInterval:  getEnvAsDuration("GENERATOR_INTERVAL", 15*time.Minute),
			DispatchInterval:   getEnvAsDuration("DISPATCH_INTERVAL", 15*time.Minute),
			ReplyInterval:      getEnvAsDuration("REPLY_INTERVAL", 5*time.Minute),
			BatchSize:          getEnvAsInt("WORKER_BATCH_SIZE", 100),
			MaxSendAttempts:    getEnvAsInt("MAX_SEND_ATTEMPTS", 3),
			StaleGenerating:    getEnvAsDuration("STALE_GENERATING_AFTER", time.Hour),
			StaleProcessing:    getEnvAsDuration("STALE_PROCESSING_AFTER", 2*time.Hour),
		},
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.Environment == "production" {
		if AppConfig.GenerationURL == "" {
			return fmt.Errorf("GENERATION_URL is required in production")
		}
		if AppConfig.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required in production")
		}
	}

	logConfig()
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
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
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

	log.Println("Successfully connected to the database")
	log.Println("Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// MigrateDB creates or updates the pipeline tables.
func MigrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Account{},
		&models.Contact{},
		&models.Template{},
		&models.Sequence{},
		&models.SequenceStep{},
		&models.SequenceMember{},
		&models.SequenceActivation{},
		&models.SequenceMessage{},
		&models.SequenceTask{},
	); err != nil {
		return err
	}

	// Storage backstop for the one-active-member-per-(sequence, contact)
	// invariant: the check-then-create in the activation worker can race
	// across two resumed runs, and completed/removed rows must stay out of
	// the way, so this has to be a partial index AutoMigrate can't express.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_member_active
		ON sequence_members (sequence_id, contact_id)
		WHERE status = 'active'`).Error
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
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
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Workers: activation=%s generator=%s dispatch=%s batch=%d",
		AppConfig.Worker.ActivationInterval,
		AppConfig.Worker.GeneratorInterval,
		AppConfig.Worker.DispatchInterval,
		AppConfig.Worker.BatchSize)
}
