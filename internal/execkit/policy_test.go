package execkit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearthd/hearthd/internal/protocol"
)

func TestPolicy_EmptyAllowlistAllowsAnything(t *testing.T) {
	p := NewPolicy(nil)
	assert.NoError(t, p.Evaluate("ls -la"))
}

func TestPolicy_NonEmptyAllowlistRejectsUnlisted(t *testing.T) {
	p := NewPolicy([]string{"ls", "cat"})
	assert.NoError(t, p.Evaluate("ls -la"))
	assert.NoError(t, p.Evaluate("cat file.txt"))

	err := p.Evaluate("rm -rf /")
	assertNotAllowed(t, err)
}

func TestPolicy_InjectionTokensAlwaysRejected(t *testing.T) {
	p := NewPolicy(nil)
	for _, cmd := range []string{
		"ls; rm -rf /",
		"ls && rm -rf /",
		"ls || true",
		"cat a | cat b",
		"cat ../secret",
		"cat ~/.ssh/id_rsa",
	} {
		err := p.Evaluate(cmd)
		assertNotAllowed(t, err)
	}
}

func TestPolicy_EmptyCommandRejected(t *testing.T) {
	p := NewPolicy(nil)
	assertNotAllowed(t, p.Evaluate("   "))
}

func assertNotAllowed(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a not-allowed error, got nil")
	}
	code, _, _ := protocol.CodeOf(err)
	if code != protocol.CodeInsufficientPrivilege {
		t.Fatalf("expected code %d, got %d", protocol.CodeInsufficientPrivilege, code)
	}
}
