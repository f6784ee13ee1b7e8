package config

import (
	"github.com/mitchellh/mapstructure"
)

// decode decodes a raw config map into a factory struct.
func decode(input map[string]interface{}, output interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     output,
	})
	if err != nil {
		return err
	}

	return decoder.Decode(input)
}
