package obixerr

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestContractTypeKnownAndUnknown(t *testing.T) {
	assert := require.New(t)

	assert.Equal("obix:BadUriContract", NoSuchURI.ContractType())
	assert.Equal("obix:UnknownErrorContract", Kind(-1).ContractType())
}

func TestErrorIncludesHrefWhenPresent(t *testing.T) {
	assert := require.New(t)

	withHref := New(NoSuchURI, "/foo", "no such uri")
	assert.Contains(withHref.Error(), "/foo")

	withoutHref := New(NoSuchURI, "", "no such uri")
	assert.NotContains(withoutHref.Error(), "href=")
}

func TestMarshalLogObjectEmitsFields(t *testing.T) {
	assert := require.New(t)

	err := New(DeviceConflictOwner, "/obix/deviceRoot/dev1", "owner mismatch", "requester", "bob")
	enc := zapcore.NewMapObjectEncoder()
	assert.Nil(err.MarshalLogObject(enc))

	assert.Equal("obix:DeviceConflictOwnerContract", enc.Fields["contract"])
	assert.Equal("/obix/deviceRoot/dev1", enc.Fields["href"])
	assert.Equal("bob", enc.Fields["requester"])
}
