package main

import (
	"testing"

	"github.com/Netflix/go-env"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults_From_Environ(t *testing.T) {
	req := require.New(t)
	var config Config

	err := env.Unmarshal(env.EnvSet{"JWT_SECRET": "s3cret"}, &config)

	req.NoError(err)
	req.Equal("badger", config.StorageDriver)
	req.Equal(8080, config.Port)
	req.Equal(4000, config.MaxContentLength)
	req.Equal(10, config.RateLimitPerSec)
	req.NoError(config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	req := require.New(t)

	req.NoError(Config{JWTSecret: "s", MaxContentLength: 1}.Validate())
	req.Error(Config{MaxContentLength: 1}.Validate())
	req.Error(Config{JWTSecret: "s"}.Validate())
}

func TestCharacterRune(t *testing.T) {
	req := require.New(t)

	r, err := CharacterRune("€")
	req.NoError(err)
	req.Equal('€', r)

	_, err = CharacterRune("**")
	req.Error(err)
}
