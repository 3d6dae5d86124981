package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations
// and amounts.
type Config struct {
	Env            string // application environment (e.g. "dev", "prod")
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	AMQPURL string // RabbitMQ connection string for the event queue

	KispgMID         string // KISPG merchant id
	KispgMerchantKey string // KISPG merchant key used for request/verify hashes
	KispgBaseURL     string // KISPG API base URL (cancel endpoint lives under it)
	KispgReturnURL   string // browser return URL passed to the payment window
	KispgNotifyURL   string // server-to-server notification URL

	PaymentWindowMin int // minutes an unpaid enrollment holds its slot
	LockerFeeKRW     int // flat locker fee added to the lesson price
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),

		AMQPURL: os.Getenv("RABBITMQ_URL"), // empty falls back to localhost

		KispgMID:         must("KISPG_MID"),
		KispgMerchantKey: must("KISPG_MERCHANT_KEY"),
		KispgBaseURL:     must("KISPG_BASE_URL"),
		KispgReturnURL:   os.Getenv("KISPG_RETURN_URL"),
		KispgNotifyURL:   os.Getenv("KISPG_NOTIFY_URL"),

		PaymentWindowMin: envIntDefault("PAYMENT_WINDOW_MIN", 5),
		LockerFeeKRW:     envIntDefault("LOCKER_FEE_KRW", 5000),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// envIntDefault reads an optional integer variable, falling back to def when
// unset.  A malformed value is still fatal so typos do not silently change
// business rules.
func envIntDefault(key string, def int) int {
	s, ok := os.LookupEnv(key)
	if !ok || s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
