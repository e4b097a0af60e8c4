package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"salonpos/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short", AppEnv: "development"})
	assert.Error(t, err)

	err = validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AppEnv:        "production",
		AllowedOrigin: "*",
	})
	assert.Error(t, err, "wildcard CORS is a development convenience")
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AppEnv:        "production",
		AllowedOrigin: "https://salon.example.com",
	})
	assert.NoError(t, err)
}
