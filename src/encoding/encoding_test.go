package encoding

import (
	"bytes"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongRoundTripAndOrder(t *testing.T) {
	values := []int64{math.MinInt64, -1000000, -1, 0, 1, 42, 1000000, math.MaxInt64}
	var encoded [][]byte
	for _, v := range values {
		e := EncodeLong(v)
		assert.Equal(t, v, DecodeLong(e))
		encoded = append(encoded, e)
	}
	for i := 1; i < len(encoded); i++ {
		assert.Negative(t, bytes.Compare(encoded[i-1], encoded[i]),
			"encoding of %d should sort before %d", values[i-1], values[i])
	}
}

func TestDoubleRoundTripAndOrder(t *testing.T) {
	values := []float64{math.Inf(-1), -1e300, -2.5, -0.0, 0.0, 1e-10, 2.5, 1e300, math.Inf(1)}
	var encoded [][]byte
	for _, v := range values {
		e := EncodeDouble(v)
		assert.Equal(t, v, DecodeDouble(e))
		encoded = append(encoded, e)
	}
	sorted := make([][]byte, len(encoded))
	copy(sorted, encoded)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for i := range encoded {
		if bytes.Compare(encoded[i], sorted[i]) != 0 && values[i] != 0 {
			t.Fatalf("byte order diverges from numeric order at %v", values[i])
		}
	}
}

func TestBoolRoundTrip(t *testing.T) {
	assert.True(t, DecodeBool(EncodeBool(true)))
	assert.False(t, DecodeBool(EncodeBool(false)))
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"", "foo", "naïve", string(make([]byte, 255))} {
		e, err := EncodeString(s)
		require.NoError(t, err)
		assert.Equal(t, s, DecodeString(e))
	}
}

func TestStringTooLong(t *testing.T) {
	_, err := EncodeString(string(make([]byte, 256)))
	require.Error(t, err)
}

func TestDateTimeRoundTrip(t *testing.T) {
	moment := time.Date(2020, 6, 1, 12, 30, 0, 0, time.UTC)
	assert.True(t, moment.Equal(DecodeDateTime(EncodeDateTime(moment))))

	// A non-UTC input lands on the same instant.
	elsewhere := moment.In(time.FixedZone("X", 3600))
	assert.Equal(t, EncodeDateTime(moment), EncodeDateTime(elsewhere))
}

func TestTypeIIDLayout(t *testing.T) {
	iid := NewTypeIID(PrefixEntityType, 7)
	assert.Len(t, []byte(iid), TypeIIDLength)
	assert.Equal(t, PrefixEntityType, iid.Prefix())
	assert.Equal(t, uint16(7), iid.Key())
}

func TestThingIIDLayout(t *testing.T) {
	typeIID := NewTypeIID(PrefixEntityType, 3)
	iid := NewThingIID(PrefixEntity, typeIID, 99)
	assert.Len(t, []byte(iid), ThingIIDLength)
	assert.Equal(t, PrefixEntity, iid.Prefix())
	assert.Equal(t, typeIID, iid.Type())
}

func TestStringAttributeIIDLayout(t *testing.T) {
	typeIID := NewTypeIID(PrefixAttributeType, 5)
	iid, err := NewStringAttributeIID(typeIID, "foo")
	require.NoError(t, err)

	expected := append([]byte{byte(PrefixAttribute)}, typeIID.Bytes()...)
	expected = append(expected, byte(ValueString), 3)
	expected = append(expected, []byte("foo")...)
	assert.Equal(t, expected, iid.Bytes())
	assert.Equal(t, ValueString, iid.ValueKind())
	assert.Equal(t, "foo", DecodeString(iid.ValueBytes()))
}

func TestThingEdgeIIDBothDirections(t *testing.T) {
	owner := NewThingIID(PrefixEntity, NewTypeIID(PrefixEntityType, 1), 10)
	attrType := NewTypeIID(PrefixAttributeType, 2)
	attr, err := NewStringAttributeIID(attrType, "bob")
	require.NoError(t, err)

	out := NewThingEdgeIID(owner, InfixHas, attr)
	assert.True(t, out.IsOutwards())
	assert.Equal(t, owner, out.Source())
	assert.Equal(t, attr, out.Target())

	in := NewThingEdgeIID(attr, InfixHas.In(), owner)
	assert.False(t, in.IsOutwards())
	assert.Equal(t, attr, in.Source())
	assert.Equal(t, owner, in.Target())
	assert.Equal(t, InfixHas, in.Infix().Kind())
}

func TestRolePlayerEdgeIID(t *testing.T) {
	relation := NewThingIID(PrefixRelation, NewTypeIID(PrefixRelationType, 1), 4)
	player := NewThingIID(PrefixEntity, NewTypeIID(PrefixEntityType, 2), 9)
	roleType := NewTypeIID(PrefixRoleType, 6)

	edge := NewRolePlayerEdgeIID(relation, InfixRolePlayer, player, roleType)
	assert.Equal(t, relation, edge.Source())
	assert.Equal(t, player, edge.Target())
	assert.Equal(t, roleType, edge.RoleType())
}

func TestValueKindComparable(t *testing.T) {
	assert.True(t, ValueLong.Comparable(ValueDouble))
	assert.True(t, ValueDouble.Comparable(ValueLong))
	assert.True(t, ValueString.Comparable(ValueString))
	assert.False(t, ValueString.Comparable(ValueLong))
	assert.False(t, ValueBool.Comparable(ValueDateTime))
}
