package postgres

import (
	"github.com/jmoiron/sqlx"
)

// Store bundles the lead and campaign repositories into a single
// repository.LeadStore implementation.
type Store struct {
	*LeadRepository
	*CampaignRepository
}

// NewStore constructs the combined store over one database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{
		LeadRepository:     NewLeadRepository(db),
		CampaignRepository: NewCampaignRepository(db),
	}
}
