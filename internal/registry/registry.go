// Package registry resolves connection identifiers to connection
// parameters from the environment. Each identifier maps to a group of
// DBREP_<ID>_* variables, typically loaded from a .env file.
package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/db-replicator/internal/dialect"
	"github.com/vitebski/db-replicator/pkg/models"
)

// Registry looks up connection specs by identifier
type Registry struct {
	Logger *logrus.Logger
}

// New creates an environment-backed registry
func New(logger *logrus.Logger) *Registry {
	return &Registry{Logger: logger}
}

func envKey(id, field string) string {
	return fmt.Sprintf("DBREP_%s_%s", strings.ToUpper(id), field)
}

func defaultPort(provider models.Provider) int {
	switch provider {
	case models.Postgres:
		return 5432
	case models.MSSQL:
		return 1433
	case models.MySQL:
		return 3306
	}
	return 0
}

// Resolve builds a connection spec for one identifier. The provider tag
// is validated against the supported dialects before anything else, and
// the port falls back to the provider's default when unset.
func (r *Registry) Resolve(id string) (models.ConnectionSpec, error) {
	var spec models.ConnectionSpec

	provider := models.Provider(strings.ToLower(os.Getenv(envKey(id, "PROVIDER"))))
	if _, err := dialect.For(provider); err != nil {
		r.Logger.Errorf("Connection %s has no usable provider: %v", id, err)
		return spec, err
	}

	missing := []string{}
	required := map[string]*string{
		"HOST":   &spec.Host,
		"SCHEMA": &spec.Schema,
		"LOGIN":  &spec.Login,
	}
	for field, target := range required {
		value := os.Getenv(envKey(id, field))
		if value == "" {
			missing = append(missing, envKey(id, field))
			continue
		}
		*target = value
	}
	if len(missing) > 0 {
		return spec, fmt.Errorf("connection %q is missing environment variables: %s",
			id, strings.Join(missing, ", "))
	}

	spec.ID = id
	spec.Provider = provider
	spec.Password = os.Getenv(envKey(id, "PASSWORD"))
	if spec.Password == "" {
		r.Logger.Warningf("Connection %s has an empty password", id)
	}

	spec.Port = defaultPort(provider)
	if portStr := os.Getenv(envKey(id, "PORT")); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return spec, fmt.Errorf("connection %q has invalid port %q: %w", id, portStr, err)
		}
		spec.Port = port
	}

	r.Logger.Debugf("Resolved connection %s: %s://%s@%s:%d/%s",
		id, spec.Provider, spec.Login, spec.Host, spec.Port, spec.Schema)
	return spec, nil
}
