package mumbleproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionPacking(t *testing.T) {
	testcases := []struct {
		Desc   string
		Major  uint16
		Minor  uint8
		Patch  uint8
		Packed uint32
	}{
		{Desc: "zero", Packed: 0},
		{Desc: "classic 1.3.0", Major: 1, Minor: 3, Packed: 0x10300},
		{Desc: "1.4.230", Major: 1, Minor: 4, Patch: 230, Packed: 0x104e6},
		{Desc: "max fields", Major: 0xffff, Minor: 0xff, Patch: 0xff, Packed: 0xffffffff},
	}

	for _, tc := range testcases {
		t.Run(tc.Desc, func(t *testing.T) {
			assert.Equal(t, tc.Packed, EncodeVersion(tc.Major, tc.Minor, tc.Patch))

			major, minor, patch := DecodeVersion(tc.Packed)
			assert.Equal(t, tc.Major, major)
			assert.Equal(t, tc.Minor, minor)
			assert.Equal(t, tc.Patch, patch)
		})
	}
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "Version", TypeVersion.String())
	assert.Equal(t, "UserState", TypeUserState.String())
	assert.Equal(t, "SuggestConfig", TypeSuggestConfig.String())
	assert.Equal(t, "Unknown", Type(9999).String())
}

func TestProtoTypeTags(t *testing.T) {
	assert.Equal(t, TypePing, (&Ping{}).ProtoType())
	assert.Equal(t, TypeTextMessage, (&TextMessage{}).ProtoType())
	assert.Equal(t, TypeCryptSetup, (&Unknown{Tag: TypeCryptSetup}).ProtoType())
}
