package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Vector struct {
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		User      string `yaml:"user"`
		Password  string `yaml:"password"`
		Name      string `yaml:"name"`
		SSLMode   string `yaml:"sslMode"`
		Dimension int    `yaml:"dimension"`
	} `yaml:"vector"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	AI struct {
		APIKey         string `yaml:"apiKey"`
		BaseURL        string `yaml:"baseURL"`
		Model          string `yaml:"model"`
		EmbeddingModel string `yaml:"embeddingModel"`
	} `yaml:"ai"`

	Evaluation struct {
		TopKPolicies        int      `yaml:"topKPolicies"`
		TopKCases           int      `yaml:"topKCases"`
		HighRiskThreshold   float64  `yaml:"highRiskThreshold"`
		MediumRiskThreshold float64  `yaml:"mediumRiskThreshold"`
		HighRiskCountries   []string `yaml:"highRiskCountries"`
		CaseWeight          float64  `yaml:"caseWeight"`
	} `yaml:"evaluation"`

	RiskScorer struct {
		FlagThreshold   float64 `yaml:"flagThreshold"`
		ReviewThreshold float64 `yaml:"reviewThreshold"`
		TopK            int     `yaml:"topK"`
	} `yaml:"riskScorer"`

	Chunker struct {
		Size    int `yaml:"size"`
		Overlap int `yaml:"overlap"`
	} `yaml:"chunker"`

	Batch struct {
		Workers int `yaml:"workers"`
	} `yaml:"batch"`

	Auth struct {
		// clientName -> apiKey; empty map disables auth
		APIKeys map[string]string `yaml:"apiKeys"`
	} `yaml:"auth"`

	RateLimit struct {
		Capacity   int `yaml:"capacity"`
		RefillRate int `yaml:"refillRate"`
	} `yaml:"rateLimit"`
}

// Load reads config.yaml. Secrets can be overridden from the environment
// so the file never has to carry credentials.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("POLICYLENS_AI_API_KEY"); v != "" {
		c.AI.APIKey = v
	}
	if v := os.Getenv("POLICYLENS_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("POLICYLENS_VECTOR_PASSWORD"); v != "" {
		c.Vector.Password = v
	}
	if v := os.Getenv("POLICYLENS_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("POLICYLENS_MINIO_SECRET_KEY"); v != "" {
		c.Minio.SecretKey = v
	}
}

// MySQLDSN builds the DSN for the relational store
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds the DSN for the vector store
func (c *Config) PostgresDSN() string {
	sslMode := c.Vector.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Vector.User,
		c.Vector.Password,
		c.Vector.Host,
		c.Vector.Port,
		c.Vector.Name,
		sslMode,
	)
}

// Validate catches misconfiguration before anything connects
func (c *Config) Validate() error {
	var missing []string
	if c.Server.Port <= 0 {
		missing = append(missing, "server.port")
	}
	if c.Database.Host == "" {
		missing = append(missing, "database.host")
	}
	if c.Vector.Host == "" {
		missing = append(missing, "vector.host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing config values: %s", strings.Join(missing, ", "))
	}
	return nil
}
