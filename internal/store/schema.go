package store

// CreateEventsTableSQL creates the action log. action_kind holds the
// ActionKind code and cause is NULL when the cause is unknown.
const CreateEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    actor_id TEXT NOT NULL,
    actor_name TEXT NOT NULL,
    world TEXT NOT NULL,
    x INTEGER NOT NULL,
    y INTEGER NOT NULL,
    z INTEGER NOT NULL,
    block_type TEXT NOT NULL,
    action_kind INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    cause INTEGER
)`

// CreateContainerTransactionsTableSQL creates the container delta table.
// event_id points at the Interaction entry that opened the container.
const CreateContainerTransactionsTableSQL = `
CREATE TABLE IF NOT EXISTS container_transactions (
    id TEXT PRIMARY KEY,
    event_id TEXT NOT NULL REFERENCES events(id),
    actor_id TEXT NOT NULL,
    actor_name TEXT NOT NULL,
    world TEXT NOT NULL,
    x INTEGER NOT NULL,
    y INTEGER NOT NULL,
    z INTEGER NOT NULL,
    item_type TEXT NOT NULL,
    delta INTEGER NOT NULL,
    created_at INTEGER NOT NULL
)`

// CreateIndexesSQL creates the indexes backing point lookups, rollback
// scans and retention.
var CreateIndexesSQL = []string{
	// Inspect: point lookup by location
	`CREATE INDEX IF NOT EXISTS idx_events_location ON events(world, x, y, z)`,

	`CREATE INDEX IF NOT EXISTS idx_events_actor_time ON events(actor_id, created_at)`,

	// Retention pruning
	`CREATE INDEX IF NOT EXISTS idx_events_time ON events(created_at)`,

	// Rollback scan by actor name
	`CREATE INDEX IF NOT EXISTS idx_events_name_world_time ON events(actor_name, world, created_at)`,

	`CREATE INDEX IF NOT EXISTS idx_container_location_time ON container_transactions(world, x, y, z, created_at)`,

	`CREATE INDEX IF NOT EXISTS idx_container_event ON container_transactions(event_id)`,
}

// AllSchemaSQL returns every statement needed to initialise an empty database.
func AllSchemaSQL() []string {
	stmts := []string{CreateEventsTableSQL, CreateContainerTransactionsTableSQL}
	return append(stmts, CreateIndexesSQL...)
}
