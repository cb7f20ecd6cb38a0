// Package secrets reads secret payloads from Google Secret Manager.
package secrets

import (
	"context"
	"fmt"
	"os"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

// LatestVersion is the default secret version.
const LatestVersion = "latest"

// Environment variables consulted, in order, when no project is given.
var projectEnvKeys = []string{"GCP_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"}

// Accessor is the subset of the Secret Manager API used here.
type Accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type clientAccessor struct {
	client *secretmanager.Client
}

func (a *clientAccessor) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	return a.client.AccessSecretVersion(ctx, req)
}

func (a *clientAccessor) Close() error {
	return a.client.Close()
}

// Service resolves secret paths and reads secret payloads.
type Service struct {
	accessor  Accessor
	projectID string
	logger    *zap.Logger
}

// NewService creates a Secret Manager backed service. projectID may be empty,
// in which case it is resolved from the environment.
func NewService(ctx context.Context, projectID string, logger *zap.Logger, opts ...option.ClientOption) (*Service, error) {
	project, err := ResolveProject(projectID)
	if err != nil {
		return nil, err
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, etlerrors.Config(err, "failed to create Secret Manager client")
	}
	return NewServiceWithAccessor(&clientAccessor{client: client}, project, logger), nil
}

// NewServiceWithAccessor creates a service over an existing accessor.
func NewServiceWithAccessor(accessor Accessor, projectID string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		accessor:  accessor,
		projectID: projectID,
		logger:    logger.With(zap.String("component", "secrets")),
	}
}

// ResolveProject returns projectID, or the first non-empty project variable
// from the environment. No project is a ConfigurationFailure.
func ResolveProject(projectID string) (string, error) {
	if projectID != "" {
		return projectID, nil
	}
	for _, key := range projectEnvKeys {
		if v := os.Getenv(key); v != "" {
			return v, nil
		}
	}
	return "", etlerrors.MissingKeys(projectEnvKeys).
		WithDetail("reason", "no project to resolve secret paths")
}

// VersionPath builds projects/{project}/secrets/{id}/versions/{version}.
func VersionPath(projectID, secretID, version string) string {
	if version == "" {
		version = LatestVersion
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretID, version)
}

// Access returns the payload of a secret version as a string.
func (s *Service) Access(ctx context.Context, secretID, version string) (string, error) {
	name := VersionPath(s.projectID, secretID, version)

	resp, err := s.accessor.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		s.logger.Error("secret_access_error", zap.String("secret", secretID), zap.Error(err))
		if status.Code(err) == codes.NotFound {
			missing := etlerrors.Wrap(err, etlerrors.ErrorTypeNotFound, secretID)
			return "", etlerrors.Config(missing, "secret not found").WithDetail("secret", name)
		}
		return "", etlerrors.Config(err, "failed to access secret").WithDetail("secret", name)
	}

	s.logger.Info("secret_access_success", zap.String("secret", secretID))
	return string(resp.GetPayload().GetData()), nil
}

// Close releases the underlying client.
func (s *Service) Close() error {
	return s.accessor.Close()
}
