package cache

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valkey-io/valkey-go"
)

func TestStaticCredentialsFn(t *testing.T) {
	fn := StaticCredentialsFn("signer", "hunter2")

	creds, err := fn(valkey.AuthCredentialsContext{})
	require.NoError(t, err)
	assert.Equal(t, valkey.AuthCredentials{Username: "signer", Password: "hunter2"}, creds)
}

func staticAWSConfig() aws.Config {
	return aws.Config{
		Region:      "ap-southeast-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	}
}

func TestIAMCredentialsFn(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.ValkeyConfig
	}{
		{
			name: "cluster",
			cfg: config.ValkeyConfig{
				IAMEnabled:   true,
				Username:     "signbridge",
				IAMCacheName: "secrets-cluster",
			},
		},
		{
			name: "serverless",
			cfg: config.ValkeyConfig{
				IAMEnabled:    true,
				Username:      "signbridge",
				IAMCacheName:  "secrets-serverless",
				IAMServerless: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := IAMCredentialsFn(tt.cfg, staticAWSConfig())
			require.NoError(t, err)

			creds, err := fn(valkey.AuthCredentialsContext{})
			require.NoError(t, err)
			assert.Equal(t, "signbridge", creds.Username)
			assert.NotEmpty(t, creds.Password)
		})
	}
}

func TestNewValkeyClient_RequiresAddress(t *testing.T) {
	_, err := newValkeyClient(context.Background(), config.ValkeyConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "valkey address is required")
}
