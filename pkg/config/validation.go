package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the configuration for invalid values.
// It combines struct-tag validation with cross-field checks the tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q constraint", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Network.MaxBufferSize < cfg.Network.BufferSize {
		return fmt.Errorf("network.max_buffer_size (%d) must be >= network.buffer_size (%d)",
			cfg.Network.MaxBufferSize, cfg.Network.BufferSize)
	}

	if cfg.Ntrip.Port == cfg.Web.Port {
		return fmt.Errorf("ntrip.port and web.port must differ (both %d)", cfg.Ntrip.Port)
	}

	if cfg.RTCM.ParseInterval >= cfg.RTCM.ParseDuration {
		return fmt.Errorf("rtcm.parse_interval (%s) must be shorter than rtcm.parse_duration (%s)",
			cfg.RTCM.ParseInterval, cfg.RTCM.ParseDuration)
	}

	if err := cfg.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}
