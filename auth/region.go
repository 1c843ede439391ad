package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Region selects the vendor hosts and gateway key used for an account.
type Region struct {
	Name            string
	APIHost         string
	SubscriptionKey string
	UserAgentSuffix string // region suffix of the x-user-agent header
}

const (
	RegionRestOfWorld  = "rest_of_world"
	RegionNorthAmerica = "north_america"
	RegionChina        = "china"
)

var regions = map[string]Region{
	RegionRestOfWorld: {
		Name:            RegionRestOfWorld,
		APIHost:         "cocoapi.bmwgroup.com",
		SubscriptionKey: "4f1c85a3-758f-a37d-bbb6-f8704494acfa",
		UserAgentSuffix: "row",
	},
	RegionNorthAmerica: {
		Name:            RegionNorthAmerica,
		APIHost:         "cocoapi.bmwgroup.us",
		SubscriptionKey: "31e102f5-6f7e-7ef3-9044-ddce63891362",
		UserAgentSuffix: "na",
	},
	RegionChina: {
		Name:      RegionChina,
		APIHost:   "myprofile.bmw.com.cn",
		UserAgentSuffix: "cn",
	},
}

// RegionByName looks up a region; names are case-insensitive.
func RegionByName(name string) (Region, error) {
	r, ok := regions[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Region{}, fmt.Errorf("unknown region %q (known: %s)", name, strings.Join(RegionNames(), ", "))
	}
	return r, nil
}

func RegionNames() []string {
	names := make([]string, 0, len(regions))
	for name := range regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithSubscriptionKey returns a copy of r using key for the API gateway.
func (r Region) WithSubscriptionKey(key string) Region {
	if key != "" {
		r.SubscriptionKey = key
	}
	return r
}

// UserAgent renders the x-user-agent header the vendor app sends for r.
func (r Region) UserAgent(appVersion string) string {
	if appVersion == "" {
		appVersion = DefaultAppVersion
	}
	return "android(" + androidBuild + ");bmw;" + appVersion + ";" + r.UserAgentSuffix
}
