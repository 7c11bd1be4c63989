// Package sessionkey derives and parses the composite key that addresses one
// application's persisted state.
//
// A key is (business, grant) for backend addressing and carries the user ID
// for audit and lock tokens. The codec performs no I/O so every consumer can
// derive the same key independently.
package sessionkey

import (
	"context"
	"strings"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/logging"
)

const separator = ":"

// Identity is the capability the codec needs from an authenticated applicant.
type Identity interface {
	UserID() string
	// BusinessRelationships returns relationship strings of the form
	// "<relationshipId>:<businessId>[:<name>...]".
	BusinessRelationships() []string
}

// Key identifies one (business, grant) pair for one applicant.
type Key struct {
	UserID     string
	BusinessID string
	GrantID    string
}

// String returns the backend addressing form "<businessId>:<grantId>".
func (k Key) String() string {
	return Format(k.BusinessID, k.GrantID)
}

// Triple returns the three-part form "<userId>:<businessId>:<grantId>".
func (k Key) Triple() string {
	return strings.Join([]string{k.UserID, k.BusinessID, k.GrantID}, separator)
}

// Codec derives keys. The logger is only used for debug snapshots of
// derivation failures.
type Codec struct {
	logger *logging.Logger
}

// NewCodec creates a codec. A nil logger discards output.
func NewCodec(logger *logging.Logger) *Codec {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Codec{logger: logger}
}

// Derive builds the key for identity and the grant named by the route slug.
// When the applicant has several business relationships the first parseable
// one is used.
func (c *Codec) Derive(ctx context.Context, identity Identity, grantID string) (Key, error) {
	if identity == nil {
		return Key{}, c.fail(ctx, nil, grantID, "missing applicant credentials")
	}

	userID := strings.TrimSpace(identity.UserID())
	if userID == "" {
		return Key{}, c.fail(ctx, identity, grantID, "missing user id in credentials")
	}

	businessID := firstBusinessID(identity.BusinessRelationships())
	if businessID == "" {
		return Key{}, c.fail(ctx, identity, grantID, "missing business relationship in credentials")
	}

	grantID = strings.TrimSpace(grantID)
	if grantID == "" {
		return Key{}, c.fail(ctx, identity, grantID, "missing grant id in route")
	}

	return Key{UserID: userID, BusinessID: businessID, GrantID: grantID}, nil
}

func (c *Codec) fail(ctx context.Context, identity Identity, grantID, reason string) error {
	snapshot := map[string]interface{}{
		"has_identity": identity != nil,
		"grant_id":     grantID,
	}
	if identity != nil {
		snapshot["has_user_id"] = strings.TrimSpace(identity.UserID()) != ""
		snapshot["relationship_count"] = len(identity.BusinessRelationships())
	}
	c.logger.WithContext(ctx).WithFields(snapshot).Debug("Session key derivation failed: " + reason)
	return apperrors.Identity(reason)
}

// firstBusinessID returns the business ID of the first relationship that
// parses, or "".
func firstBusinessID(relationships []string) string {
	for _, rel := range relationships {
		parts := strings.Split(rel, separator)
		if len(parts) < 2 {
			continue
		}
		if id := strings.TrimSpace(parts[1]); id != "" {
			return id
		}
	}
	return ""
}

// Format builds "<businessId>:<grantId>".
func Format(businessID, grantID string) string {
	return businessID + separator + grantID
}

// Parse splits "<businessId>:<grantId>".
func Parse(key string) (businessID, grantID string, err error) {
	parts, err := split(key, 2)
	if err != nil {
		return "", "", err
	}
	return parts[0], parts[1], nil
}

// ParseTriple splits "<userId>:<businessId>:<grantId>".
func ParseTriple(key string) (userID, businessID, grantID string, err error) {
	parts, err := split(key, 3)
	if err != nil {
		return "", "", "", err
	}
	return parts[0], parts[1], parts[2], nil
}

func split(key string, want int) ([]string, error) {
	if key == "" {
		return nil, apperrors.Format("session key is empty")
	}
	parts := strings.Split(key, separator)
	if len(parts) != want {
		return nil, apperrors.Format("session key has wrong number of parts").
			WithDetails("want", want).
			WithDetails("got", len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return nil, apperrors.Format("session key has an empty part")
		}
	}
	return parts, nil
}
