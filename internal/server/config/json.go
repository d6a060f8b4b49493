package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/hi-space/next-memo/internal/flagx"
)

// JsonConfig is an intermediate DTO used only for reading JSON
// configuration files. Interval fields are expressed in minutes so the
// file stays plain JSON. After unmarshalling, its fields are copied into
// the runtime Config.
type JsonConfig struct {
	EndpointAddrHTTP string `json:"endpoint_addr_http"`
	DatabaseDSN      string `json:"database_dsn"`

	S3AccessKey    string `json:"s3_access_key"`
	S3SecretKey    string `json:"s3_secret_key"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`

	PublicBaseURL     string `json:"public_base_url"`
	PresignTTLMinutes int    `json:"presign_ttl_minutes"`

	BedrockRegion     string `json:"bedrock_region"`
	BedrockTextModel  string `json:"bedrock_text_model"`
	BedrockImageModel string `json:"bedrock_image_model"`

	EnrichQueueSize int `json:"enrich_queue_size"`
}

// parseJson loads configuration values from a JSON file (pointed at by
// the -c or -config flags) into the provided Config. When no file is
// given, the Config is left untouched. Unreadable or invalid JSON
// panics: a broken config file should stop startup immediately.
//
// Zero-valued JSON fields do not override existing values, so the file
// only needs to mention the settings it changes.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	overlayString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	overlayString(&config.DatabaseDSN, c.DatabaseDSN)
	overlayString(&config.S3AccessKey, c.S3AccessKey)
	overlayString(&config.S3SecretKey, c.S3SecretKey)
	overlayString(&config.S3Bucket, c.S3Bucket)
	overlayString(&config.S3Region, c.S3Region)
	overlayString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	overlayString(&config.PublicBaseURL, c.PublicBaseURL)
	overlayString(&config.BedrockRegion, c.BedrockRegion)
	overlayString(&config.BedrockTextModel, c.BedrockTextModel)
	overlayString(&config.BedrockImageModel, c.BedrockImageModel)

	if c.PresignTTLMinutes > 0 {
		config.PresignTTL = time.Duration(c.PresignTTLMinutes) * time.Minute
	}
	if c.EnrichQueueSize > 0 {
		config.EnrichQueueSize = c.EnrichQueueSize
	}
}

func overlayString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
