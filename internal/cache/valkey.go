package cache

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/chinmina/iamcacheauth"
	"github.com/crawlkit/signbridge/internal/config"
	"github.com/valkey-io/valkey-go"
)

type credentialsFn = func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error)

// newValkeyClient builds a client for cfg, authenticating either with the
// static username and password or with short-lived IAM tokens.
func newValkeyClient(ctx context.Context, cfg config.ValkeyConfig) (valkey.Client, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required when cache type is valkey")
	}

	opts := valkey.ClientOption{
		InitAddress: []string{cfg.Address},
	}

	if cfg.IAMEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config for IAM auth: %w", err)
		}

		creds, err := IAMCredentialsFn(cfg, awsCfg)
		if err != nil {
			return nil, fmt.Errorf("configuring IAM credentials: %w", err)
		}
		// ElastiCache drops IAM connections after 12 hours; the client
		// redials and fetches a fresh token through creds.
		opts.AuthCredentialsFn = creds
	} else {
		opts.AuthCredentialsFn = StaticCredentialsFn(cfg.Username, cfg.Password)
	}

	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client, err := valkey.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	return client, nil
}

// StaticCredentialsFn always answers with the configured username and
// password.
func StaticCredentialsFn(username, password string) credentialsFn {
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		return valkey.AuthCredentials{Username: username, Password: password}, nil
	}
}

// IAMCredentialsFn generates a fresh ElastiCache IAM token for every new
// connection. awsCfg is a parameter so tests can inject static credentials.
func IAMCredentialsFn(cfg config.ValkeyConfig, awsCfg aws.Config) (credentialsFn, error) {
	var opts []iamcacheauth.Option
	if cfg.IAMServerless {
		opts = append(opts, iamcacheauth.WithServerless())
	}

	gen, err := iamcacheauth.NewElastiCache(cfg.Username, cfg.IAMCacheName, awsCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating IAM token generator: %w", err)
	}

	username := cfg.Username
	return func(valkey.AuthCredentialsContext) (valkey.AuthCredentials, error) {
		// token signing is local; the context only bounds credential lookup
		token, err := gen.Token(context.Background())
		if err != nil {
			return valkey.AuthCredentials{}, fmt.Errorf("generating IAM auth token: %w", err)
		}
		return valkey.AuthCredentials{Username: username, Password: token}, nil
	}, nil
}
