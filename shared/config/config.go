package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int
	AdminRole       string

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers        []string
	KafkaClientID       string
	KafkaRetryMax       int
	KafkaWriteMS        int
	KafkaSearchTopic    string
	KafkaEventsTopic    string
	InfluxURL           string
	InfluxToken         string
	InfluxOrg           string
	InfluxBucket        string
	InfluxTimeoutMS     int
	RecsServiceURL      string
	RecsTimeoutMS       int
	RecsRetryMax        int
	RecsCacheTTLSeconds int

	PipelineTickMS     int
	PopTimeoutSec      int
	JobMaxAttempts     int
	JobRetryDelayMS    int
	PipelineTick       time.Duration
	PopTimeout         time.Duration
	JobRetryDelay      time.Duration
	QueueDepthInterval time.Duration

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

// keys lists every setting understood by Load, in the order they are applied from the environment.
var keys = []string{
	"ENV", "SERVICE_NAME", "HTTP_PORT", "PORT", "LOG_LEVEL", "REQUEST_TIMEOUT_MS",
	"OIDC_ISSUER", "OIDC_AUDIENCE", "OIDC_JWKS_URL", "JWKS_CACHE_TTL_SECONDS", "JWT_CLOCK_SKEW_SECONDS", "ADMIN_ROLE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONN_MAX_IDLE_SECONDS", "DB_CONN_MAX_LIFETIME_SECONDS",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"KAFKA_BROKERS", "KAFKA_CLIENT_ID", "KAFKA_RETRY_MAX", "KAFKA_WRITE_TIMEOUT_MS",
	"KAFKA_TOPIC_SEARCH_PATTERNS", "KAFKA_TOPIC_EVENTS",
	"INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG", "INFLUX_BUCKET", "INFLUX_TIMEOUT_MS",
	"RECS_SERVICE_URL", "RECS_TIMEOUT_MS", "RECS_RETRY_MAX", "RECS_CACHE_TTL_SECONDS",
	"PIPELINE_TICK_MS", "PIPELINE_POP_TIMEOUT_SECONDS", "JOB_MAX_ATTEMPTS", "JOB_RETRY_DELAY_MS",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_SAMPLE_RATIO",
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                 envRaw,
		ServiceName:         serviceNameDefault,
		HTTPPort:            httpPortDefault,
		LogLevel:            "info",
		ConfigPath:          strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:    30000,
		JWKSTTLSeconds:      300,
		JWTClockSkewSec:     60,
		AdminRole:           "pipeline:admin",
		DBMaxConns:          10,
		DBMinConns:          1,
		DBConnMaxIdleSec:    300,
		DBConnMaxLifeSec:    1800,
		KafkaRetryMax:       5,
		KafkaWriteMS:        5000,
		KafkaSearchTopic:    "search.patterns",
		KafkaEventsTopic:    "storefront.events",
		InfluxTimeoutMS:     5000,
		RecsTimeoutMS:       3000,
		RecsRetryMax:        2,
		RecsCacheTTLSeconds: 3600,
		PipelineTickMS:      5000,
		PopTimeoutSec:       1,
		JobMaxAttempts:      3,
		JobRetryDelayMS:     30000,
		OtelInsecure:        true,
		OtelSampleRatio:     1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		for k, v := range fileData {
			raw, ok := stringify(v)
			if !ok {
				problems = append(problems, Problem{Field: strings.ToUpper(k), Message: strings.ToUpper(k) + " has an unsupported type"})
				continue
			}
			apply(&cfg, strings.ToUpper(strings.TrimSpace(k)), raw, &problems)
		}
	} else {
		problems = append(problems, fileProblems...)
	}

	for _, key := range keys {
		if key == "PORT" && strings.TrimSpace(os.Getenv("HTTP_PORT")) != "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			apply(&cfg, key, v, &problems)
		}
	}

	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	validate(&cfg, httpPortDefault, &problems)

	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	cfg.PipelineTick = time.Duration(cfg.PipelineTickMS) * time.Millisecond
	cfg.PopTimeout = time.Duration(cfg.PopTimeoutSec) * time.Second
	cfg.JobRetryDelay = time.Duration(cfg.JobRetryDelayMS) * time.Millisecond
	cfg.QueueDepthInterval = 2 * cfg.PipelineTick

	return cfg, problems
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	positive := func(field string, v *int, def int) {
		if *v <= 0 {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be > 0"})
			*v = def
		}
	}
	nonNegative := func(field string, v *int, def int) {
		if *v < 0 {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be >= 0"})
			*v = def
		}
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	positive("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, 30000)
	positive("JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, 300)
	nonNegative("JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec, 60)
	positive("DB_MAX_CONNS", &cfg.DBMaxConns, 10)
	nonNegative("DB_MIN_CONNS", &cfg.DBMinConns, 1)
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	positive("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, 300)
	positive("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, 1800)
	nonNegative("REDIS_DB", &cfg.RedisDB, 0)
	nonNegative("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, 5)
	positive("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, 5000)
	positive("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, 5000)
	positive("RECS_TIMEOUT_MS", &cfg.RecsTimeoutMS, 3000)
	nonNegative("RECS_RETRY_MAX", &cfg.RecsRetryMax, 2)
	positive("RECS_CACHE_TTL_SECONDS", &cfg.RecsCacheTTLSeconds, 3600)
	positive("PIPELINE_TICK_MS", &cfg.PipelineTickMS, 5000)
	positive("PIPELINE_POP_TIMEOUT_SECONDS", &cfg.PopTimeoutSec, 1)
	positive("JOB_MAX_ATTEMPTS", &cfg.JobMaxAttempts, 3)
	positive("JOB_RETRY_DELAY_MS", &cfg.JobRetryDelayMS, 30000)
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
}

// apply sets a single key from its string form. Env vars and config-file values share this path.
func apply(cfg *Config, key string, v string, problems *[]Problem) {
	setInt := func(dst *int) {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
			return
		}
		*dst = n
	}
	setBool := func(dst *bool) {
		b, ok := asBool(v)
		if !ok {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
			return
		}
		*dst = b
	}
	setString := func(dst *string) {
		if s := strings.TrimSpace(v); s != "" {
			*dst = s
		}
	}

	switch key {
	case "ENV":
		cfg.Env = strings.TrimSpace(v)
	case "SERVICE_NAME":
		setString(&cfg.ServiceName)
	case "HTTP_PORT", "PORT":
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
			return
		}
		cfg.HTTPPort = p
	case "LOG_LEVEL":
		setString(&cfg.LogLevel)
	case "REQUEST_TIMEOUT_MS":
		setInt(&cfg.RequestTimeoutMS)
	case "OIDC_ISSUER":
		setString(&cfg.OIDCIssuer)
	case "OIDC_AUDIENCE":
		setString(&cfg.OIDCAudience)
	case "OIDC_JWKS_URL":
		setString(&cfg.OIDCJWKSURL)
	case "JWKS_CACHE_TTL_SECONDS":
		setInt(&cfg.JWKSTTLSeconds)
	case "JWT_CLOCK_SKEW_SECONDS":
		setInt(&cfg.JWTClockSkewSec)
	case "ADMIN_ROLE":
		setString(&cfg.AdminRole)
	case "DATABASE_URL":
		setString(&cfg.DatabaseURL)
	case "DB_MAX_CONNS":
		setInt(&cfg.DBMaxConns)
	case "DB_MIN_CONNS":
		setInt(&cfg.DBMinConns)
	case "DB_CONN_MAX_IDLE_SECONDS":
		setInt(&cfg.DBConnMaxIdleSec)
	case "DB_CONN_MAX_LIFETIME_SECONDS":
		setInt(&cfg.DBConnMaxLifeSec)
	case "REDIS_ADDR":
		setString(&cfg.RedisAddr)
	case "REDIS_PASSWORD":
		cfg.RedisPassword = v
	case "REDIS_DB":
		setInt(&cfg.RedisDB)
	case "KAFKA_BROKERS":
		cfg.KafkaBrokers = parseCSV(v)
	case "KAFKA_CLIENT_ID":
		setString(&cfg.KafkaClientID)
	case "KAFKA_RETRY_MAX":
		setInt(&cfg.KafkaRetryMax)
	case "KAFKA_WRITE_TIMEOUT_MS":
		setInt(&cfg.KafkaWriteMS)
	case "KAFKA_TOPIC_SEARCH_PATTERNS":
		setString(&cfg.KafkaSearchTopic)
	case "KAFKA_TOPIC_EVENTS":
		setString(&cfg.KafkaEventsTopic)
	case "INFLUX_URL":
		setString(&cfg.InfluxURL)
	case "INFLUX_TOKEN":
		cfg.InfluxToken = v
	case "INFLUX_ORG":
		setString(&cfg.InfluxOrg)
	case "INFLUX_BUCKET":
		setString(&cfg.InfluxBucket)
	case "INFLUX_TIMEOUT_MS":
		setInt(&cfg.InfluxTimeoutMS)
	case "RECS_SERVICE_URL":
		setString(&cfg.RecsServiceURL)
	case "RECS_TIMEOUT_MS":
		setInt(&cfg.RecsTimeoutMS)
	case "RECS_RETRY_MAX":
		setInt(&cfg.RecsRetryMax)
	case "RECS_CACHE_TTL_SECONDS":
		setInt(&cfg.RecsCacheTTLSeconds)
	case "PIPELINE_TICK_MS":
		setInt(&cfg.PipelineTickMS)
	case "PIPELINE_POP_TIMEOUT_SECONDS":
		setInt(&cfg.PopTimeoutSec)
	case "JOB_MAX_ATTEMPTS":
		setInt(&cfg.JobMaxAttempts)
	case "JOB_RETRY_DELAY_MS":
		setInt(&cfg.JobRetryDelayMS)
	case "OTEL_ENABLED":
		setBool(&cfg.OtelEnabled)
	case "OTEL_EXPORTER_OTLP_ENDPOINT":
		setString(&cfg.OtelEndpoint)
	case "OTEL_EXPORTER_OTLP_INSECURE":
		setBool(&cfg.OtelInsecure)
	case "OTEL_SAMPLE_RATIO":
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be a number"})
			return
		}
		cfg.OtelSampleRatio = f
	}
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		if explicit {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

// stringify flattens a decoded JSON value into the string form used by env vars.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case []any:
		return strings.Join(parseAnyCSV(t), ","), true
	default:
		return "", false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
