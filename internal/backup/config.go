package backup

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// StoreProvider names a remote or local artifact store
type StoreProvider string

const (
	StoreLocal StoreProvider = "local"
	StoreS3    StoreProvider = "s3"
	StoreAzure StoreProvider = "azure"
	StoreGCS   StoreProvider = "gcs"
)

// StorageConfig selects and configures an artifact store
type StorageConfig struct {
	Provider StoreProvider `yaml:"provider" mapstructure:"provider"`
	Local    *LocalConfig  `yaml:"local,omitempty" mapstructure:"local"`
	S3       *S3Config     `yaml:"s3,omitempty" mapstructure:"s3"`
	Azure    *AzureConfig  `yaml:"azure,omitempty" mapstructure:"azure"`
	GCS      *GCSConfig    `yaml:"gcs,omitempty" mapstructure:"gcs"`
}

// LocalConfig for a directory on the local file system
type LocalConfig struct {
	BasePath    string      `yaml:"base_path" mapstructure:"base_path"`
	Permissions os.FileMode `yaml:"permissions" mapstructure:"permissions"`
}

// S3Config for Amazon S3 and S3-compatible endpoints
type S3Config struct {
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Region    string `yaml:"region" mapstructure:"region"`
	AccessKey string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey string `yaml:"secret_key" mapstructure:"secret_key"`
	// Endpoint overrides the AWS endpoint, e.g. for MinIO
	Endpoint       string `yaml:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style,omitempty" mapstructure:"force_path_style"`
	Prefix         string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name" mapstructure:"account_name"`
	AccountKey    string `yaml:"account_key" mapstructure:"account_key"`
	ContainerName string `yaml:"container_name" mapstructure:"container_name"`
	Prefix        string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	CredentialsPath string `yaml:"credentials_path" mapstructure:"credentials_path"`
	ProjectID       string `yaml:"project_id" mapstructure:"project_id"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
}

// SetDefaults sets default values for storage configuration
func (sc *StorageConfig) SetDefaults() {
	if sc.Provider == "" {
		sc.Provider = StoreLocal
	}
	sc.Provider = StoreProvider(strings.ToLower(string(sc.Provider)))

	switch sc.Provider {
	case StoreLocal:
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		sc.Local.SetDefaults()
	case StoreS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		sc.S3.SetDefaults()
	case StoreAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
	case StoreGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		sc.GCS.SetDefaults()
	}
}

// LoadFromEnvironment overlays SQLFERRY_STORE_* environment variables
func (sc *StorageConfig) LoadFromEnvironment() {
	if val := os.Getenv("SQLFERRY_STORE_PROVIDER"); val != "" {
		sc.Provider = StoreProvider(strings.ToLower(val))
	}

	switch sc.Provider {
	case StoreLocal, "":
		if sc.Local == nil {
			sc.Local = &LocalConfig{}
		}
		if val := os.Getenv("SQLFERRY_STORE_LOCAL_PATH"); val != "" {
			sc.Local.BasePath = val
		}
		if val := os.Getenv("SQLFERRY_STORE_LOCAL_PERMISSIONS"); val != "" {
			if parsed, err := strconv.ParseUint(val, 8, 32); err == nil {
				sc.Local.Permissions = os.FileMode(parsed)
			}
		}
	case StoreS3:
		if sc.S3 == nil {
			sc.S3 = &S3Config{}
		}
		envString(&sc.S3.Bucket, "SQLFERRY_S3_BUCKET")
		envString(&sc.S3.Region, "SQLFERRY_S3_REGION")
		envString(&sc.S3.AccessKey, "SQLFERRY_S3_ACCESS_KEY")
		envString(&sc.S3.SecretKey, "SQLFERRY_S3_SECRET_KEY")
		envString(&sc.S3.Endpoint, "SQLFERRY_S3_ENDPOINT")
		envString(&sc.S3.Prefix, "SQLFERRY_S3_PREFIX")
		if val := os.Getenv("SQLFERRY_S3_FORCE_PATH_STYLE"); val != "" {
			sc.S3.ForcePathStyle, _ = strconv.ParseBool(val)
		}
	case StoreAzure:
		if sc.Azure == nil {
			sc.Azure = &AzureConfig{}
		}
		envString(&sc.Azure.AccountName, "SQLFERRY_AZURE_ACCOUNT_NAME")
		envString(&sc.Azure.AccountKey, "SQLFERRY_AZURE_ACCOUNT_KEY")
		envString(&sc.Azure.ContainerName, "SQLFERRY_AZURE_CONTAINER")
		envString(&sc.Azure.Prefix, "SQLFERRY_AZURE_PREFIX")
	case StoreGCS:
		if sc.GCS == nil {
			sc.GCS = &GCSConfig{}
		}
		envString(&sc.GCS.Bucket, "SQLFERRY_GCS_BUCKET")
		envString(&sc.GCS.CredentialsPath, "SQLFERRY_GCS_CREDENTIALS")
		envString(&sc.GCS.ProjectID, "SQLFERRY_GCS_PROJECT")
		envString(&sc.GCS.Prefix, "SQLFERRY_GCS_PREFIX")
	}
}

func envString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

// Validate checks the selected provider has what it needs
func (sc *StorageConfig) Validate() error {
	switch sc.Provider {
	case StoreLocal:
		if sc.Local == nil || sc.Local.BasePath == "" {
			return errors.New("local store requires base_path")
		}
		return nil
	case StoreS3:
		if sc.S3 == nil {
			return errors.New("s3 store requires an s3 block")
		}
		var errs []error
		if sc.S3.Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required"))
		}
		if sc.S3.Region == "" {
			errs = append(errs, errors.New("s3 region is required"))
		}
		if (sc.S3.AccessKey == "") != (sc.S3.SecretKey == "") {
			errs = append(errs, errors.New("s3 access_key and secret_key must be set together"))
		}
		return errors.Join(errs...)
	case StoreAzure:
		if sc.Azure == nil {
			return errors.New("azure store requires an azure block")
		}
		var errs []error
		if sc.Azure.AccountName == "" {
			errs = append(errs, errors.New("azure account_name is required"))
		}
		if sc.Azure.AccountKey == "" {
			errs = append(errs, errors.New("azure account_key is required"))
		}
		if sc.Azure.ContainerName == "" {
			errs = append(errs, errors.New("azure container_name is required"))
		}
		return errors.Join(errs...)
	case StoreGCS:
		if sc.GCS == nil || sc.GCS.Bucket == "" {
			return errors.New("gcs bucket is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported store provider %q", sc.Provider)
	}
}

// SetDefaults sets default values for local storage configuration
func (lc *LocalConfig) SetDefaults() {
	if lc.BasePath == "" {
		lc.BasePath = "./backups"
	}
	if lc.Permissions == 0 {
		lc.Permissions = 0755
	}
}

// SetDefaults sets default values for S3 storage configuration
func (s3c *S3Config) SetDefaults() {
	if s3c.Region == "" {
		s3c.Region = "us-east-1"
	}
}

// SetDefaults falls back to the ambient Google credentials file
func (gc *GCSConfig) SetDefaults() {
	if gc.CredentialsPath == "" {
		gc.CredentialsPath = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
}
