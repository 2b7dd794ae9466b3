package distribution_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juleafs/julea/distribution"
)

// TestRoundRobinStripeSequence is scenario 5 of §8: policy=round-robin,
// stripe_size=1024, servers=3, write 2560 bytes at offset 512. Expected
// stripes: (0, 512, 512), (1, 0, 1024), (2, 0, 1024).
func TestRoundRobinStripeSequence(t *testing.T) {
	p := distribution.NewRoundRobin(1024, 3)
	p.Reset(2560, 512)

	want := []distribution.Stripe{
		{Server: 0, LocalOff: 512, LocalLen: 512},
		{Server: 1, LocalOff: 0, LocalLen: 1024},
		{Server: 2, LocalOff: 0, LocalLen: 1024},
	}
	var got []distribution.Stripe
	for {
		s, ok := p.Next()
		if !ok {
			break
		}
		got = append(got, s)
	}
	assert.Equal(t, want, got)
}

// TestRoundRobinCoversRangeExactlyOnce checks, for several (offset, length)
// pairs, that every stripe lands on server (logical offset / stripe size)
// mod servers, and that the stripes' local lengths sum to length and end
// exactly at offset+length.
func TestRoundRobinCoversRangeExactlyOnce(t *testing.T) {
	cases := []struct {
		stripeSize uint64
		servers    int
		offset     uint64
		length     uint64
	}{
		{1024, 3, 512, 2560},
		{64, 4, 0, 1000},
		{7, 5, 3, 123},
		{1, 2, 0, 1},
	}
	for _, c := range cases {
		p := distribution.NewRoundRobin(c.stripeSize, c.servers)
		p.Reset(c.length, c.offset)

		var total uint64
		logicalOff := c.offset
		for {
			s, ok := p.Next()
			if !ok {
				break
			}
			wantServer := int((logicalOff / c.stripeSize) % uint64(c.servers))
			require.Equal(t, wantServer, s.Server)
			total += s.LocalLen
			logicalOff += s.LocalLen
		}
		assert.Equal(t, c.length, total, "case %+v", c)
		assert.Equal(t, c.offset+c.length, logicalOff, "case %+v", c)
	}
}

func TestSingleServerYieldsOneStripe(t *testing.T) {
	p := distribution.NewSingleServer(2)
	p.Reset(100, 50)

	s, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, distribution.Stripe{Server: 2, LocalOff: 50, LocalLen: 100}, s)

	_, ok = p.Next()
	assert.False(t, ok)
}

func TestWeightedDistributesByCycle(t *testing.T) {
	// Cycle: server 0 gets [0,10), server 1 gets [10,15).
	p := distribution.NewWeighted([]uint64{10, 5})
	p.Reset(20, 5)

	want := []distribution.Stripe{
		{Server: 0, LocalOff: 5, LocalLen: 5},
		{Server: 1, LocalOff: 0, LocalLen: 5},
		{Server: 0, LocalOff: 0, LocalLen: 10},
	}
	var got []distribution.Stripe
	for {
		s, ok := p.Next()
		if !ok {
			break
		}
		got = append(got, s)
	}
	assert.Equal(t, want, got)

	var total uint64
	for _, s := range got {
		total += s.LocalLen
	}
	assert.Equal(t, uint64(20), total)
}
