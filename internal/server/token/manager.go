package token

import (
	"strings"
	"time"

	"github.com/mdouchement/chestsync/internal/cserror"
	"github.com/mdouchement/chestsync/internal/database"
	"github.com/mdouchement/chestsync/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Length is the number of characters of a generated token.
const Length = 32

// touchInterval bounds how often the last usage date is persisted.
const touchInterval = time.Minute

type (
	// A Manager manages ingest tokens.
	Manager interface {
		// Generate creates a new token for the tenant and returns its raw value.
		// The raw value is never stored and cannot be retrieved later.
		Generate(tenantID, label string) (string, *model.IngestToken, error)
		// Validate returns the active token matching the raw value.
		Validate(raw string) (*model.IngestToken, error)
		// List returns the tokens of the tenant.
		List(tenantID string) ([]*model.IngestToken, error)
		// Revoke deactivates the token of the tenant whose digest starts with prefix.
		Revoke(tenantID, prefix string) (*model.IngestToken, error)
	}

	manager struct {
		db  database.Client
		now func() time.Time
	}
)

// NewManager returns a new manager.
func NewManager(db database.Client) Manager {
	return &manager{
		db: db,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (m *manager) Generate(tenantID, label string) (string, *model.IngestToken, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", nil, errors.New("missing structure")
	}

	raw, err := SecureToken(Length)
	if err != nil {
		return "", nil, err
	}

	token := &model.IngestToken{
		Base:     model.Base{ID: Digest(raw)},
		TenantID: tenantID,
		Label:    label,
		Active:   true,
	}

	if err = m.db.SaveToken(token); err != nil {
		return "", nil, err
	}
	return raw, token, nil
}

func (m *manager) Validate(raw string) (*model.IngestToken, error) {
	if raw == "" {
		return nil, cserror.Unauthorized("Missing ingest token.")
	}

	token, err := m.db.FindToken(Digest(raw))
	if err != nil {
		if m.db.IsNotFound(err) {
			return nil, cserror.Unauthorized("Invalid ingest token.")
		}
		return nil, errors.Wrap(err, "could not get access to database")
	}

	if !token.Active {
		return nil, cserror.Unauthorized("Revoked ingest token.")
	}

	now := m.now()
	if token.LastUsedAt == nil || now.Sub(*token.LastUsedAt) > touchInterval {
		token.LastUsedAt = &now
		if err = m.db.SaveToken(token); err != nil {
			// Usage tracking must not deny access.
			logrus.WithError(err).WithField("structure", token.TenantID).Warn("could not touch ingest token")
		}
	}

	return token, nil
}

func (m *manager) List(tenantID string) ([]*model.IngestToken, error) {
	return m.db.FindTokensByTenantID(tenantID)
}

func (m *manager) Revoke(tenantID, prefix string) (*model.IngestToken, error) {
	if len(prefix) < 8 {
		return nil, errors.New("digest prefix must have at least 8 characters")
	}

	tokens, err := m.db.FindTokensByTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	var found *model.IngestToken
	for _, token := range tokens {
		if !strings.HasPrefix(token.ID, prefix) {
			continue
		}
		if found != nil {
			return nil, errors.Errorf("ambiguous digest prefix %s", prefix)
		}
		found = token
	}
	if found == nil {
		return nil, errors.Errorf("no token matching %s", prefix)
	}

	found.Active = false
	return found, m.db.SaveToken(found)
}
