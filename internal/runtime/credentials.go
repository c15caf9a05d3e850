package runtime

import (
	"context"
	"errors"
	"os"
)

// Credentials is the material handed to the sink stage for one start
// attempt. It is resolved freshly per attempt and never cached by the
// supervisor, so rotated credentials are picked up on the next reconnect.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialResolver supplies sink credentials on demand. Implementations
// must be safe for concurrent use.
type CredentialResolver interface {
	Resolve(ctx context.Context) (Credentials, error)
}

// StaticCredentials resolves to a fixed key pair.
type StaticCredentials Credentials

func (s StaticCredentials) Resolve(_ context.Context) (Credentials, error) {
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return Credentials{}, errors.New("static credentials incomplete")
	}
	return Credentials(s), nil
}

// EnvCredentials reads the standard AWS environment variables at resolve
// time, so a rotated environment (e.g. refreshed by IAM tooling between
// attempts) is honored without restarting the supervisor.
type EnvCredentials struct{}

func (EnvCredentials) Resolve(_ context.Context) (Credentials, error) {
	c := Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
	}
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return Credentials{}, errors.New("AWS credentials not present in environment")
	}
	return c, nil
}

// NoCredentials is used for sink kinds that need no credential material,
// such as local playback.
type NoCredentials struct{}

func (NoCredentials) Resolve(_ context.Context) (Credentials, error) {
	return Credentials{}, nil
}
