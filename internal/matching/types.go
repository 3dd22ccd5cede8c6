package matching

import "github.com/rishav/marketsim/internal/model"

// UpdateResult is the outcome of feeding a new NBBO tick through every
// pending order resting against that symbol.
type UpdateResult struct {
	Fills    []model.Fill
	Expired  []*model.Order
	Rejected []*model.Order
}
