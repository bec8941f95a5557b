package config

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase configures the database backend. For sqlite the url is a file path.
func WithDatabase(dbType, url string) Option {
	return func(c *ServerConfig) error {
		switch dbType {
		case "memory":
		case "postgres", "sqlite":
			if url == "" {
				return fmt.Errorf("database URL is required for %s", dbType)
			}
		default:
			return fmt.Errorf("database type must be 'memory', 'postgres' or 'sqlite', got: %s", dbType)
		}
		c.DatabaseType = dbType
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithAutoMigrate applies postgres migrations when the service is built
func WithAutoMigrate(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.AutoMigrate = enabled
		return nil
	}
}

// WithMemoryStorage stores content in process memory
func WithMemoryStorage() Option {
	return func(c *ServerConfig) error {
		c.Storage = StorageConfig{Type: "memory", Config: map[string]interface{}{}}
		return nil
	}
}

// WithFilesystemStorage stores content under baseDir
func WithFilesystemStorage(baseDir string) Option {
	return func(c *ServerConfig) error {
		if baseDir == "" {
			return fmt.Errorf("filesystem base directory cannot be empty")
		}
		c.Storage = StorageConfig{
			Type: "fs",
			Config: map[string]interface{}{
				"base_dir": baseDir,
			},
		}
		return nil
	}
}

// WithS3Storage stores content in an S3 bucket
func WithS3Storage(bucket, region string) Option {
	return func(c *ServerConfig) error {
		if bucket == "" {
			return fmt.Errorf("S3 bucket cannot be empty")
		}
		if region == "" {
			region = "us-east-1" // Default region
		}
		c.Storage = StorageConfig{
			Type: "s3",
			Config: map[string]interface{}{
				"bucket": bucket,
				"region": region,
			},
		}
		return nil
	}
}

// WithS3Credentials sets static AWS credentials for S3 storage
func WithS3Credentials(accessKeyID, secretAccessKey string) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		c.Storage.Config["access_key_id"] = accessKeyID
		c.Storage.Config["secret_access_key"] = secretAccessKey
		return nil
	}
}

// WithS3Endpoint sets a custom S3 endpoint (for MinIO, LocalStack, etc.)
func WithS3Endpoint(endpoint string, usePathStyle bool) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		c.Storage.Config["endpoint"] = endpoint
		c.Storage.Config["use_path_style"] = usePathStyle
		return nil
	}
}

// WithS3Encryption enables server-side encryption (AES256 or aws:kms)
func WithS3Encryption(algorithm, kmsKeyID string) Option {
	return func(c *ServerConfig) error {
		if err := requireS3(c); err != nil {
			return err
		}
		if algorithm != "AES256" && algorithm != "aws:kms" {
			return fmt.Errorf("invalid SSE algorithm: %s", algorithm)
		}
		c.Storage.Config["enable_sse"] = true
		c.Storage.Config["sse_algorithm"] = algorithm
		if kmsKeyID != "" {
			c.Storage.Config["sse_kms_key_id"] = kmsKeyID
		}
		return nil
	}
}

func requireS3(c *ServerConfig) error {
	if c.Storage.Type != "s3" {
		return fmt.Errorf("S3 option requires s3 storage, configured: %s", c.Storage.Type)
	}
	if c.Storage.Config == nil {
		c.Storage.Config = map[string]interface{}{}
	}
	return nil
}

// WithMaxUploadBytes rejects uploads larger than n bytes. Zero disables the limit.
func WithMaxUploadBytes(n int64) Option {
	return func(c *ServerConfig) error {
		if n < 0 {
			return fmt.Errorf("max upload bytes cannot be negative, got: %d", n)
		}
		c.MaxUploadBytes = n
		return nil
	}
}

// WithKnownHashCacheSize bounds the content store's cache of stored hashes
func WithKnownHashCacheSize(size int) Option {
	return func(c *ServerConfig) error {
		c.KnownHashCacheSize = size
		return nil
	}
}

// WithJWTSecret enables bearer token verification for the HTTP API
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}

// WithMetrics toggles Prometheus metrics and sets their registerer
func WithMetrics(enabled bool, reg prometheus.Registerer) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		c.Registerer = reg
		return nil
	}
}
