package rating

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/R3E-Network/store_rating/internal/app/domain/store"
)

const (
	MinValue = 1
	MaxValue = 5
)

// Rating is the single score a user holds for a store.
type Rating struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	StoreID   int64     `json:"store_id"`
	Rating    int       `json:"rating"`
	Review    string    `json:"review"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Aggregate is derived from the current rating rows of one store.
type Aggregate struct {
	AverageRating float64
	RatingCount   int
}

// NewAggregate computes the mean from a sum and count; zero count yields zero.
func NewAggregate(sum, count int) Aggregate {
	if count <= 0 {
		return Aggregate{}
	}
	return Aggregate{AverageRating: float64(sum) / float64(count), RatingCount: count}
}

// Rounded is the average at two decimal places.
func (a Aggregate) Rounded() float64 {
	return math.Round(a.AverageRating*100) / 100
}

// Display is the fixed two-decimal rendering, e.g. "2.00".
func (a Aggregate) Display() string {
	return fmt.Sprintf("%.2f", a.AverageRating)
}

func (a Aggregate) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AverageRating        float64 `json:"averageRating"`
		AverageRatingDisplay string  `json:"averageRatingDisplay"`
		RatingCount          int     `json:"ratingCount"`
	}{a.Rounded(), a.Display(), a.RatingCount})
}

// Review is a rating joined with its author, as shown to readers.
type Review struct {
	ReviewerName  string    `json:"name"`
	ReviewerEmail string    `json:"email"`
	Rating        int       `json:"rating"`
	Review        string    `json:"review"`
	CreatedAt     time.Time `json:"created_at"`
}

// StoreSummary annotates a store with its aggregate and, when a viewer is
// known, the viewer's own submission.
type StoreSummary struct {
	store.Store
	OverallRating float64 `json:"overall_rating"`
	TotalRatings  int     `json:"total_ratings"`
	UserRating    *int    `json:"user_rating"`
	UserReview    *string `json:"user_review"`
}

// Counts are the system-wide totals on the admin dashboard.
type Counts struct {
	TotalUsers   int `json:"totalUsers"`
	TotalStores  int `json:"totalStores"`
	TotalRatings int `json:"totalRatings"`
}
