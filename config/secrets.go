package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	log "github.com/sirupsen/logrus"
)

// ParameterStore reads decrypted values from AWS SSM Parameter Store.
type ParameterStore struct {
	client ssmiface.SSMAPI
}

func NewParameterStore(region string) (*ParameterStore, error) {
	sess, err := awssession.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &ParameterStore{client: ssm.New(sess)}, nil
}

func NewParameterStoreWithClient(client ssmiface.SSMAPI) *ParameterStore {
	return &ParameterStore{client: client}
}

func (p *ParameterStore) Get(ctx context.Context, name string) (string, error) {
	out, err := p.client.GetParameterWithContext(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || aws.StringValue(out.Parameter.Value) == "" {
		return "", fmt.Errorf("parameter %s is empty", name)
	}
	return aws.StringValue(out.Parameter.Value), nil
}

// ResolveICECredential fills ICE.Credential from the parameter store when it
// is not set directly but ICE.CredentialSSMParam is.
func (c *Config) ResolveICECredential(ctx context.Context, store *ParameterStore) error {
	if c.ICE.Credential != "" || c.ICE.CredentialSSMParam == "" {
		return nil
	}
	log.WithField("src", "config").Infof("fetching ICE credential from SSM parameter %s", c.ICE.CredentialSSMParam)

	value, err := store.Get(ctx, c.ICE.CredentialSSMParam)
	if err != nil {
		return err
	}
	c.ICE.Credential = value
	return nil
}

// NeedsParameterStore reports whether ResolveICECredential would call AWS.
func (c *Config) NeedsParameterStore() bool {
	return c.ICE.Credential == "" && c.ICE.CredentialSSMParam != ""
}
