package config

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Options struct {
	runAddr        string
	logLevel       string
	storageBackend string
	dataBaseDSN    string
	migrationsDir  string
	redisAddr      string
	redisAttempts  int
	cartKey        string
	currency       string

	freeDeliveryThreshold int64
	deliveryFee           int64
	orderMinAmount        int64
	orderMaxAmount        int64
}

func NewOptions() *Options {
	return new(Options)
}

// ParseFlags handles command line arguments
// and stores their values in the corresponding variables.
func (o *Options) ParseFlags() {
	// Load environment variables from the .env file
	loadEnvFile()

	o.register(flag.CommandLine)

	// parse the arguments passed to the server into registered variables
	flag.Parse()
}

// Parse registers the options on fs and parses args; environment variables
// provide the defaults.
func (o *Options) Parse(fs *flag.FlagSet, args []string) error {
	o.register(fs)
	return fs.Parse(args)
}

func (o *Options) register(fs *flag.FlagSet) {
	fs.StringVar(&o.runAddr, "a", getEnvOrDefault("RUN_ADDRESS", ":8080"), "address and port to run server")
	fs.StringVar(&o.logLevel, "l", getEnvOrDefault("LOG_LEVEL", "debug"), "log level")
	fs.StringVar(&o.storageBackend, "s", getEnvOrDefault("STORAGE_BACKEND", BackendMemory), "cart storage backend: memory, redis or postgres")
	fs.StringVar(&o.dataBaseDSN, "d", getEnvOrDefault("DATABASE_URI", ""), "database connection string")
	fs.StringVar(&o.migrationsDir, "m", getEnvOrDefault("MIGRATIONS_DIR", "migrations"), "directory with database migrations")
	fs.StringVar(&o.redisAddr, "r", getEnvOrDefault("REDIS_ADDR", "localhost:6379"), "redis address or redis:// URL")
	fs.IntVar(&o.redisAttempts, "redis-attempts", int(getEnvInt64OrDefault("REDIS_ATTEMPTS", 10)), "redis connection attempts at startup")
	fs.StringVar(&o.cartKey, "k", getEnvOrDefault("CART_KEY", "@farmcare:cart"), "storage key for the cart")
	fs.StringVar(&o.currency, "c", getEnvOrDefault("CURRENCY", "KES"), "cart currency")
	fs.Int64Var(&o.freeDeliveryThreshold, "free-delivery", getEnvInt64OrDefault("DELIVERY_FREE_THRESHOLD", 1000), "subtotal above which delivery is free, in major units")
	fs.Int64Var(&o.deliveryFee, "delivery-fee", getEnvInt64OrDefault("DELIVERY_FEE", 150), "standard delivery fee, in major units")
	fs.Int64Var(&o.orderMinAmount, "order-min", getEnvInt64OrDefault("ORDER_MIN_AMOUNT", 100), "minimum order subtotal, in major units")
	fs.Int64Var(&o.orderMaxAmount, "order-max", getEnvInt64OrDefault("ORDER_MAX_AMOUNT", 100000), "maximum order subtotal, in major units")
}

func (o *Options) RunAddr() string {
	return o.runAddr
}

func (o *Options) LogLevel() string {
	return o.logLevel
}

func (o *Options) StorageBackend() string {
	return o.storageBackend
}

func (o *Options) DataBaseDSN() string {
	return o.dataBaseDSN
}

func (o *Options) MigrationsDir() string {
	return o.migrationsDir
}

func (o *Options) RedisAddr() string {
	return o.redisAddr
}

func (o *Options) RedisAttempts() int {
	return o.redisAttempts
}

func (o *Options) CartKey() string {
	return o.cartKey
}

func (o *Options) Currency() string {
	return o.currency
}

func (o *Options) FreeDeliveryThreshold() int64 {
	return o.freeDeliveryThreshold
}

func (o *Options) DeliveryFee() int64 {
	return o.deliveryFee
}

func (o *Options) OrderMinAmount() int64 {
	return o.orderMinAmount
}

func (o *Options) OrderMaxAmount() int64 {
	return o.orderMaxAmount
}

// getEnvOrDefault reads an environment variable or returns a default value if the variable is not set or is empty.
func getEnvOrDefault(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	value := getEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", key, value, err)
		return defaultValue
	}
	return n
}

// loadEnvFile loads environment variables from a .env file
func loadEnvFile() {
	// Determine the path to the .env file relative to the current working directory
	cwd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	envPath := filepath.Join(cwd, "..", "..", ".env")

	// Load environment variables from the .env file
	err = godotenv.Load(envPath)
	if err != nil {
		log.Printf("No .env file found at %s, proceeding without it", envPath)
	} else {
		log.Printf(".env file loaded from %s", envPath)
	}
}
