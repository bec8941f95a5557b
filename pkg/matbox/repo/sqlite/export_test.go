package sqlite

// SetVersionBatchSize overrides the version batch size until the returned
// func is called.
func SetVersionBatchSize(n int) (restore func()) {
	prev := versionBatchSize
	versionBatchSize = n
	return func() { versionBatchSize = prev }
}

var DSN = dsn
