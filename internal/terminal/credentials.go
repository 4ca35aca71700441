package terminal

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/itd-tools/erp-change-portal/pkg/config"
)

// Credentials is one resolvable database login.
type Credentials struct {
	Username string
	Password string
}

// CredentialResolver maps an assigned access_db_user to stored credentials.
// The reserved primary alias routes to the system schema configured in the
// environment; every other name is looked up in the credential file.
type CredentialResolver struct {
	cfg config.TerminalConfig
}

func NewCredentialResolver(cfg config.TerminalConfig) *CredentialResolver {
	return &CredentialResolver{cfg: cfg}
}

// Resolve returns the credentials for dbUser or an error when none are stored.
func (r *CredentialResolver) Resolve(dbUser string) (Credentials, error) {
	name := strings.TrimSpace(dbUser)
	if name == "" {
		return Credentials{}, fmt.Errorf("empty database user")
	}

	if strings.EqualFold(name, r.cfg.PrimaryAlias) {
		if r.cfg.PrimaryUser == "" {
			return Credentials{}, fmt.Errorf("primary schema credentials are not configured")
		}
		return Credentials{Username: r.cfg.PrimaryUser, Password: r.cfg.PrimaryPassword}, nil
	}

	if r.cfg.CredentialFile == "" {
		return Credentials{}, fmt.Errorf("credential file is not configured")
	}
	raw, err := os.ReadFile(r.cfg.CredentialFile)
	if err != nil {
		return Credentials{}, fmt.Errorf("read credential file: %w", err)
	}
	var stored map[string]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Credentials{}, fmt.Errorf("parse credential file: %w", err)
	}
	for user, password := range stored {
		if strings.EqualFold(user, name) {
			return Credentials{Username: user, Password: password}, nil
		}
	}
	return Credentials{}, fmt.Errorf("no stored credentials for %s", name)
}

// ConnectString renders the EZConnect descriptor for the target database.
func (r *CredentialResolver) ConnectString() string {
	return fmt.Sprintf("//%s:%d/%s", r.cfg.OracleHost, r.cfg.OraclePort, r.cfg.OracleServiceName)
}
