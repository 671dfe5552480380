package wallet

import "errors"

var (
	// ErrNoFetcher is returned by FetchAndPublish when the hub was built
	// without a REST fetcher.
	ErrNoFetcher = errors.New("wallet hub has no fetcher")
)
