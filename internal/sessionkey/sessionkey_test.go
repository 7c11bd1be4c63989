package sessionkey

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/pkg/testutil"
)

// =============================================================================
// Derive
// =============================================================================

func TestDerive_Valid(t *testing.T) {
	codec := NewCodec(nil)
	id := testutil.NewIdentity("1100014934", "rel-1:106284736:Farm Ltd:1:Employee:0")

	key, err := codec.Derive(context.Background(), id, "adding-value")
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if key.UserID != "1100014934" || key.BusinessID != "106284736" || key.GrantID != "adding-value" {
		t.Errorf("Derive() = %+v", key)
	}
	if key.String() != "106284736:adding-value" {
		t.Errorf("String() = %q", key.String())
	}
	if key.Triple() != "1100014934:106284736:adding-value" {
		t.Errorf("Triple() = %q", key.Triple())
	}
}

func TestDerive_PicksFirstParseableRelationship(t *testing.T) {
	codec := NewCodec(nil)
	id := testutil.NewIdentity("u1", "garbage", "rel-2:222:Second", "rel-3:333:Third")

	key, err := codec.Derive(context.Background(), id, "g1")
	if err != nil {
		t.Fatalf("Derive() error = %v", err)
	}
	if key.BusinessID != "222" {
		t.Errorf("BusinessID = %q, want 222", key.BusinessID)
	}
}

func TestDerive_IdentityErrors(t *testing.T) {
	tests := []struct {
		name     string
		identity Identity
		grantID  string
		wantMsg  string
	}{
		{"nil identity", nil, "g1", "missing applicant credentials"},
		{"no user id", testutil.NewIdentity("", "r:1:x"), "g1", "missing user id"},
		{"no relationships", testutil.NewIdentity("u1"), "g1", "missing business relationship"},
		{"unparseable relationship", testutil.NewIdentity("u1", "only-one-part", "r::"), "g1", "missing business relationship"},
		{"no grant id", testutil.NewIdentity("u1", "r:1:x"), "  ", "missing grant id"},
	}

	codec := NewCodec(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Derive(context.Background(), tt.identity, tt.grantID)
			if !apperrors.IsCode(err, apperrors.CodeIdentity) {
				t.Fatalf("Derive() error = %v, want IdentityError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestDerive_LogsSnapshotWithoutSecrets(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	codec := NewCodec(logging.Wrap(base, "test"))

	id := testutil.NewIdentity("u1")
	id.Token = "super-secret-token"

	if _, err := codec.Derive(context.Background(), id, "g1"); err == nil {
		t.Fatal("Derive() error = nil, want IdentityError")
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Level != logrus.DebugLevel {
		t.Fatalf("expected a debug entry, got %+v", entry)
	}
	if entry.Data["relationship_count"] != 0 {
		t.Errorf("relationship_count = %v, want 0", entry.Data["relationship_count"])
	}
	for k, v := range entry.Data {
		if fmt.Sprint(v) == "super-secret-token" {
			t.Errorf("field %s leaked the credential", k)
		}
	}
}

// =============================================================================
// Parse
// =============================================================================

func TestParse_RoundTrip(t *testing.T) {
	pairs := [][2]string{{"106284736", "adding-value"}, {"1", "g"}, {"ABC123", "farmingEquipment"}}
	for _, p := range pairs {
		b, g, err := Parse(Format(p[0], p[1]))
		if err != nil {
			t.Fatalf("Parse(Format(%q, %q)) error = %v", p[0], p[1], err)
		}
		if b != p[0] || g != p[1] {
			t.Errorf("Parse(Format(%q, %q)) = (%q, %q)", p[0], p[1], b, g)
		}
	}
}

func TestParse_FormatErrors(t *testing.T) {
	for _, in := range []string{"", "onlyone", "a:b:c", ":g1", "b1:"} {
		if _, _, err := Parse(in); !apperrors.IsCode(err, apperrors.CodeFormat) {
			t.Errorf("Parse(%q) error = %v, want FormatError", in, err)
		}
	}
}

func TestParseTriple(t *testing.T) {
	u, b, g, err := ParseTriple("u1:b1:g1")
	if err != nil {
		t.Fatalf("ParseTriple() error = %v", err)
	}
	if u != "u1" || b != "b1" || g != "g1" {
		t.Errorf("ParseTriple() = (%q, %q, %q)", u, b, g)
	}

	if _, _, _, err := ParseTriple("b1:g1"); !apperrors.IsCode(err, apperrors.CodeFormat) {
		t.Errorf("ParseTriple(two parts) error = %v, want FormatError", err)
	}
}
