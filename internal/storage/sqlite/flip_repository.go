package sqlite

import "database/sql"

// FlipRepository is the SQLite storage.FlipRepository.
type FlipRepository struct {
	*FlipReadRepository
	*FlipWriteRepository
}

func NewFlipRepository(dbConn *sql.DB) *FlipRepository {
	return &FlipRepository{
		FlipReadRepository:  NewFlipReadRepository(dbConn),
		FlipWriteRepository: NewFlipWriteRepository(dbConn),
	}
}
