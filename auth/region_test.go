package auth_test

import (
	"testing"

	"github.com/jrsteele09/go-connecteddrive/auth"
	"github.com/stretchr/testify/require"
)

func TestRegionByName(t *testing.T) {
	t.Run("case insensitive", func(t *testing.T) {
		r, err := auth.RegionByName(" North_America ")
		require.NoError(t, err)
		require.Equal(t, "cocoapi.bmwgroup.us", r.APIHost)
		require.Equal(t, "na", r.UserAgentSuffix)
	})

	t.Run("unknown region", func(t *testing.T) {
		_, err := auth.RegionByName("mars")
		require.Error(t, err)
		require.Contains(t, err.Error(), "rest_of_world")
	})

	t.Run("subscription key override", func(t *testing.T) {
		r, err := auth.RegionByName(auth.RegionRestOfWorld)
		require.NoError(t, err)
		require.Equal(t, "override", r.WithSubscriptionKey("override").SubscriptionKey)
		require.Equal(t, r.SubscriptionKey, r.WithSubscriptionKey("").SubscriptionKey)
	})
}

func TestNegotiator_UserAgent(t *testing.T) {
	n := auth.NewNegotiator(auth.WithUserAgent("5.0.0(1)"))
	r, err := auth.RegionByName(auth.RegionChina)
	require.NoError(t, err)
	require.Equal(t, "android(AP2A.240605.024);bmw;5.0.0(1);cn", n.UserAgent(r))
}
