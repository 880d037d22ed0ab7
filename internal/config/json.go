package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration parses both string values such as "10s" and integer nanoseconds,
// so JSON config files can use the human-friendly form.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
}

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config.
// Pointer fields distinguish "absent" from zero.
type JsonConfig struct {
	HubAddr                *string   `json:"hub_addr"`
	DatabaseDSN            *string   `json:"database_dsn"`
	HealthAddr             *string   `json:"health_addr"`
	BatchMaxSize           *int      `json:"batch_max_size"`
	BatchMaxAge            *Duration `json:"batch_max_age"`
	FlushMaxRetries        *uint64   `json:"flush_max_retries"`
	RequestTimeout         *Duration `json:"request_timeout"`
	PollInterval           *Duration `json:"poll_interval"`
	PageSize               *int      `json:"page_size"`
	BackfillPagesPerSecond *int      `json:"backfill_pages_per_second"`
	BackfillMaxFid         *uint64   `json:"backfill_max_fid"`
}

// parseJson loads configuration values from the JSON file at path into the
// provided Config. An empty path means no file is loaded.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if jc.HubAddr != nil {
		config.HubAddr = *jc.HubAddr
	}
	if jc.DatabaseDSN != nil {
		config.DatabaseDSN = *jc.DatabaseDSN
	}
	if jc.HealthAddr != nil {
		config.HealthAddr = *jc.HealthAddr
	}
	if jc.BatchMaxSize != nil {
		config.BatchMaxSize = *jc.BatchMaxSize
	}
	if jc.BatchMaxAge != nil {
		config.BatchMaxAge = time.Duration(*jc.BatchMaxAge)
	}
	if jc.FlushMaxRetries != nil {
		config.FlushMaxRetries = *jc.FlushMaxRetries
	}
	if jc.RequestTimeout != nil {
		config.RequestTimeout = time.Duration(*jc.RequestTimeout)
	}
	if jc.PollInterval != nil {
		config.PollInterval = time.Duration(*jc.PollInterval)
	}
	if jc.PageSize != nil {
		config.PageSize = *jc.PageSize
	}
	if jc.BackfillPagesPerSecond != nil {
		config.BackfillPagesPerSecond = *jc.BackfillPagesPerSecond
	}
	if jc.BackfillMaxFid != nil {
		config.BackfillMaxFid = *jc.BackfillMaxFid
	}

	return nil
}
