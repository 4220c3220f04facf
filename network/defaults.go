package network

// DefaultLatencies is a one-way latency table (milliseconds) over the
// countries carrying most of the network's nodes. Each row lists a
// "default" fallback for unlisted destinations.
func DefaultLatencies() *LatencyModel {
	return NewLatencyModel(map[string]map[string]float64{
		"us": {"us": 30, "ca": 25, "de": 45, "gb": 40, "fr": 45, "fi": 55, "sg": 95, "jp": 75, "au": 95, "default": 70},
		"ca": {"ca": 20, "us": 25, "de": 50, "gb": 45, "default": 75},
		"de": {"de": 12, "fr": 15, "gb": 18, "fi": 25, "us": 45, "sg": 85, "jp": 115, "default": 60},
		"gb": {"gb": 10, "de": 18, "fr": 12, "us": 40, "default": 60},
		"fr": {"fr": 10, "de": 15, "gb": 12, "us": 45, "default": 60},
		"fi": {"fi": 10, "de": 25, "default": 65},
		"sg": {"sg": 10, "jp": 35, "au": 50, "us": 95, "de": 85, "default": 90},
		"jp": {"jp": 12, "sg": 35, "us": 75, "default": 90},
		"au": {"au": 15, "sg": 50, "us": 95, "default": 100},
	})
}

// DefaultWeights approximates the observed geographic distribution of
// mainnet nodes.
func DefaultWeights() *CountryWeights {
	return NewCountryWeights(map[Country]int{
		"us": 340,
		"de": 190,
		"fi": 55,
		"gb": 50,
		"fr": 45,
		"ca": 40,
		"sg": 65,
		"jp": 45,
		"au": 25,
	})
}
