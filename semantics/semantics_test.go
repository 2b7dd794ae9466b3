package semantics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagBits(t *testing.T) {
	cases := []struct {
		safety          Safety
		network, storage bool
	}{
		{SafetyNone, false, false},
		{SafetyNetwork, true, false},
		{SafetyStorage, true, true},
	}

	for _, c := range cases {
		s := Default().WithSafety(c.safety)
		network, storage := s.FlagBits()
		assert.Equal(t, c.network, network, "safety=%s", c.safety)
		assert.Equal(t, c.storage, storage, "safety=%s", c.safety)
	}
}

func TestWithersAreImmutable(t *testing.T) {
	base := Default()
	derived := base.WithAtomicity(AtomicityBatch).WithSafety(SafetyStorage)

	assert.Equal(t, AtomicityNone, base.Atomicity())
	assert.Equal(t, SafetyNone, base.Safety())
	assert.Equal(t, AtomicityBatch, derived.Atomicity())
	assert.Equal(t, SafetyStorage, derived.Safety())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "batch", AtomicityBatch.String())
	assert.Equal(t, "storage", SafetyStorage.String())
	assert.Equal(t, "session", ConsistencySession.String())
	assert.Equal(t, "non-overlapping", ConcurrencyNonOverlapping.String())
}
