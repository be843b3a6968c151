package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Identities *IdentityRepository
	History    *HistoryRepository
	Attempts   *AttemptRepository
	Challenges *ChallengeRepository
	Grants     *GrantRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		Identities: NewIdentityRepository(pool),
		History:    NewHistoryRepository(pool),
		Attempts:   NewAttemptRepository(pool),
		Challenges: NewChallengeRepository(pool),
		Grants:     NewGrantRepository(pool),
	}
}
