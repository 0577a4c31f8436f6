package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Env                     string
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	FirebaseAPIKey          string
	FirestoreAppID          string
	BusinessName            string
	LogLevel                string
	LogFormat               string
	SeedDemo                bool
}

// Load reads the environment. Outside production a .env file in the working
// directory is loaded first; variables already set win.
func Load() Config {
	env := strings.ToLower(getEnv("APP_ENV", "development"))
	if env != "production" {
		_ = godotenv.Load()
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	seedDemo, err := strconv.ParseBool(getEnv("SEED_DEMO", "true"))
	if err != nil {
		seedDemo = true
	}

	projectID := strings.TrimSpace(os.Getenv("FIREBASE_PROJECT_ID"))
	cfg := Config{
		Env:                     env,
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   tokenTTL,
		FirebaseProjectID:       projectID,
		FirebaseCredentialsFile: os.Getenv("FIREBASE_CREDENTIALS_FILE"),
		FirebaseAPIKey:          strings.TrimSpace(os.Getenv("FIREBASE_API_KEY")),
		FirestoreAppID:          getEnv("FIRESTORE_APP_ID", projectID),
		BusinessName:            getEnv("BUSINESS_NAME", "Mi Tienda"),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:               strings.ToLower(getEnv("LOG_FORMAT", "console")),
		SeedDemo:                seedDemo,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// UsesFirebase reports whether accounts and data live in Firebase.
func (c Config) UsesFirebase() bool {
	return c.FirebaseProjectID != ""
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
