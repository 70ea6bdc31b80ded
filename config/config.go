package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	LogLevel string

	DBDriver   string // postgres, sqlite, mysql
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string

	JWTKey string

	SendGridAPIKey  string
	EmailSender     string
	EmailSenderName string

	VerifyAPIURL string // Deliverability check endpoint, empty disables the check
	VerifyAPIKey string

	AppBaseURL string // Used to build intake links
	RulesFile  string // Optional override of the embedded rule registry

	SequenceInitialDelay time.Duration
	SequenceSendHour     int
	SequenceCron         string
	SequenceBatchSize    int

	DfyAssignmentPolicy string // fixed, round_robin, least_loaded
	DfyAssigneeEmail    string
	DfyStaffRole        string

	BundleConcurrency   int
	DedupeNotifications bool
}

// AppConfig is a global variable to access configuration
var AppConfig *Config

// LoadConfig initializes configuration from environment variables or defaults
func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found. Using system environment variables.")
	}

	AppConfig = &Config{
		Port:     getEnv("PORT", "3000"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "academy"),
		DBPort:     getEnv("DB_PORT", "5432"),

		JWTKey: getEnv("JWT_SECRET_KEY", "defaultSecret"),

		SendGridAPIKey:  getEnv("SENDGRID_API_KEY", ""),
		EmailSender:     getEnv("EMAIL_SENDER", "no-reply@academy.local"),
		EmailSenderName: getEnv("EMAIL_SENDER_NAME", "Academy"),

		VerifyAPIURL: getEnv("VERIFY_API_URL", ""),
		VerifyAPIKey: getEnv("VERIFY_API_KEY", ""),

		AppBaseURL: strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:3000"), "/"),
		RulesFile:  getEnv("RULES_FILE", ""),

		SequenceInitialDelay: getEnvDuration("SEQUENCE_INITIAL_DELAY", time.Hour),
		SequenceSendHour:     getEnvInt("SEQUENCE_SEND_HOUR", 9),
		SequenceCron:         getEnv("SEQUENCE_CRON", "@every 5m"),
		SequenceBatchSize:    getEnvInt("SEQUENCE_BATCH_SIZE", 200),

		DfyAssignmentPolicy: strings.ToLower(getEnv("DFY_ASSIGNMENT_POLICY", "fixed")),
		DfyAssigneeEmail:    getEnv("DFY_ASSIGNEE_EMAIL", ""),
		DfyStaffRole:        getEnv("DFY_STAFF_ROLE", "STAFF"),

		BundleConcurrency:   getEnvInt("BUNDLE_CONCURRENCY", 1),
		DedupeNotifications: getEnvBool("DEDUPE_NOTIFICATIONS", false),
	}

	// Validate critical configuration
	if AppConfig.JWTKey == "defaultSecret" {
		log.Println("Warning: Using default JWT_SECRET_KEY. Update it in your environment.")
	}
	if AppConfig.SendGridAPIKey == "" {
		log.Println("Warning: SENDGRID_API_KEY not set. Emails will only be logged.")
	}
	if AppConfig.SequenceSendHour < 0 || AppConfig.SequenceSendHour > 23 {
		log.Printf("Warning: SEQUENCE_SEND_HOUR %d out of range, using 9", AppConfig.SequenceSendHour)
		AppConfig.SequenceSendHour = 9
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns the default integer value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Error converting environment variable %s to int: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Error converting environment variable %s to bool: %v", key, err)
		return defaultValue
	}
	return boolValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		log.Printf("Error converting environment variable %s to duration: %v", key, err)
		return defaultValue
	}
	return d
}
