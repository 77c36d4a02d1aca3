package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Catalog   CatalogConfig
	Notifier  NotifierConfig
	Kafka     KafkaConfig
	Admission AdmissionConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
}

type NotifierConfig struct {
	BaseURL string
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type AdmissionConfig struct {
	ProtocolTimeout     time.Duration
	CompensationRetries int
	ReconcileInterval   time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverHost := os.Getenv("SERVER_HOST")
	if serverHost == "" {
		serverHost = "localhost"
	}

	serverPortStr := os.Getenv("SERVER_PORT")
	if serverPortStr == "" {
		serverPortStr = "8080"
	}

	serverPort, err := strconv.Atoi(serverPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid SERVER_PORT: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: serverHost,
		Port: serverPort,
	}

	postgresHost := os.Getenv("POSTGRES_HOST")
	if postgresHost == "" {
		postgresHost = "localhost"
	}

	postgresPortStr := os.Getenv("POSTGRES_PORT")
	if postgresPortStr == "" {
		postgresPortStr = "5432"
	}

	postgresPort, err := strconv.Atoi(postgresPortStr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid POSTGRES_PORT: %w", op, err)
	}

	postgresUser := os.Getenv("POSTGRES_USER")
	if postgresUser == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_USER", op)
	}

	postgresPassword := os.Getenv("POSTGRES_PASSWORD")
	if postgresPassword == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_PASSWORD", op)
	}

	postgresDB := os.Getenv("POSTGRES_DB")
	if postgresDB == "" {
		return nil, fmt.Errorf("%s: missing POSTGRES_DB", op)
	}

	postgresSSLMode := os.Getenv("POSTGRES_SSLMODE")
	if postgresSSLMode == "" {
		postgresSSLMode = "disable"
	}

	postgresCfg := PostgresConfig{
		User:     postgresUser,
		Password: postgresPassword,
		Name:     postgresDB,
		Host:     postgresHost,
		Port:     postgresPort,
		SSLMode:  postgresSSLMode,
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	redisCfg := RedisConfig{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       0,
	}

	catalogURL := os.Getenv("CATALOG_URL")
	if catalogURL == "" {
		return nil, fmt.Errorf("%s: missing CATALOG_URL", op)
	}

	catalogTimeout, err := secondsEnv("CATALOG_TIMEOUT_SEC", 3)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	catalogCfg := CatalogConfig{
		BaseURL: strings.TrimRight(catalogURL, "/"),
		Timeout: catalogTimeout,
	}

	notifierCfg := NotifierConfig{
		BaseURL: strings.TrimRight(os.Getenv("NOTIFIER_URL"), "/"),
	}

	var kafkaCfg KafkaConfig
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		kafkaCfg.Brokers = strings.Split(brokers, ",")
		kafkaCfg.Topic = os.Getenv("KAFKA_BOOKINGS_TOPIC")
		if kafkaCfg.Topic == "" {
			kafkaCfg.Topic = "bookings"
		}
	}

	protocolTimeout, err := secondsEnv("ADMISSION_PROTOCOL_TIMEOUT_SEC", 10)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	compensationRetries := 2
	if s := os.Getenv("ADMISSION_COMPENSATION_RETRIES"); s != "" {
		compensationRetries, err = strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid ADMISSION_COMPENSATION_RETRIES: %w", op, err)
		}
	}

	reconcileInterval, err := secondsEnv("RECONCILE_INTERVAL_SEC", 300)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	admissionCfg := AdmissionConfig{
		ProtocolTimeout:     protocolTimeout,
		CompensationRetries: compensationRetries,
		ReconcileInterval:   reconcileInterval,
	}

	return &Config{
		Server:    serverCfg,
		Postgres:  postgresCfg,
		Redis:     redisCfg,
		Catalog:   catalogCfg,
		Notifier:  notifierCfg,
		Kafka:     kafkaCfg,
		Admission: admissionCfg,
	}, nil
}

func secondsEnv(name string, def int) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return time.Duration(def) * time.Second, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}

	return time.Duration(v) * time.Second, nil
}
