package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequest_HasID(t *testing.T) {
	withID := Request{ID: float64(1)}
	assert.True(t, withID.HasID())

	without := Request{}
	assert.False(t, without.HasID())
}

func TestCodeOf_CodedErrorPreservesCode(t *testing.T) {
	err := NewCodedError(CodeInsufficientPrivilege, "nope", map[string]string{"why": "policy"})
	code, msg, data := CodeOf(err)
	assert.Equal(t, CodeInsufficientPrivilege, code)
	assert.Equal(t, "nope", msg)
	assert.NotNil(t, data)
}

func TestCodeOf_PlainErrorDefaultsToInternal(t *testing.T) {
	code, msg, data := CodeOf(assertErr{"boom"})
	assert.Equal(t, CodeInternalError, code)
	assert.Equal(t, "boom", msg)
	assert.Nil(t, data)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }

func TestSession_HandshakeLifecycle(t *testing.T) {
	s := NewSession()
	assert.False(t, s.Initialized())

	s.SetClientInfo("client", "1.0")
	name, version := s.ClientInfo()
	assert.Equal(t, "client", name)
	assert.Equal(t, "1.0", version)
	assert.False(t, s.Initialized())

	s.MarkInitialized()
	assert.True(t, s.Initialized())
}
