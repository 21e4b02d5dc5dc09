package remote

import (
	"context"
	"errors"
	"strings"

	"github.com/mikey-austin/kodi_remote/internal/ports"
	"github.com/mikey-austin/kodi_remote/pkg/kodi"
)

// Settings changes Kodi settings.
type Settings struct {
	c ports.Caller
}

// Set changes one setting and waits for Kodi to accept it.
func (s *Settings) Set(ctx context.Context, key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key is required")
	}
	return s.c.Call(ctx, kodi.SettingsSetSettingValue{Setting: key, Value: value}, nil)
}
