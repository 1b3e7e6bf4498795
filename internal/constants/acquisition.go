package constants

// Sample acquisition tuning. The values are empirical; they are exported so
// deployments can override them through configuration.
const (
	// CatalogPageSize is the per_page value sent to catalog sources.
	CatalogPageSize = 200

	// StalledPageLimit is the number of consecutive pages contributing no
	// usable sample after which pagination for a category stops.
	StalledPageLimit = 3

	// PrimaryOverFetchFactor and SecondaryOverFetchFactor multiply the
	// outstanding quota to size the fetch budget of each stage.
	PrimaryOverFetchFactor   = 6
	SecondaryOverFetchFactor = 12

	// MinFetchBudget is the floor applied to every stage budget.
	MinFetchBudget = 200

	// DefaultSampleQuota and MaxSampleQuota bound the samples endpoint limit.
	DefaultSampleQuota = 50
	MaxSampleQuota     = 10000
)

// Worker defaults.
const (
	DefaultWorkerHost = "127.0.0.1"
	DefaultWorkerPort = 8001

	DefaultTemperature = 1.0
	DefaultStereoWidth = 0.5
)
