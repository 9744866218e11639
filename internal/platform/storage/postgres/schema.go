package postgres

// MigrationModels lists every table owned by this package, in creation order.
// The migration layer consumes it so schema and models cannot drift.
func MigrationModels() []any {
	return []any{
		&electionModel{},
		&electionVoterModel{},
		&ballotModel{},
		&tallyModel{},
	}
}

// MigrationTables returns table names in drop order (children first).
func MigrationTables() []string {
	return []string{"ballots", "tallies", "election_voters", "elections"}
}
