package migrations

// AllMigrations returns all registered migrations in order.
//   - 001: Create streams table
//   - 002: Add transcode result columns to streams
//   - 003: Index streams by creation time
func AllMigrations() []Migration {
	return []Migration{
		migration001Streams(),
		migration002StreamMediaInfo(),
		migration003StreamsCreatedAtIndex(),
	}
}
