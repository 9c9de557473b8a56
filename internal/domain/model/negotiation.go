package model

import (
	"sort"
	"time"

	"ostrid-adapter/internal/domain"
)

type NegotiationMode string

const (
	ModeSolver  NegotiationMode = "solver"
	ModeAuction NegotiationMode = "auction"
)

// Dimension names supported by the protocol.
const (
	DimPrice       = "price"
	DimQuality     = "quality"
	DimTime        = "time"
	DimCompute     = "compute"
	DimAccuracy    = "accuracy"
	DimErrorMargin = "error_margin"
)

// BoundKind distinguishes ceilings that decay downward (price_max) from
// floors that relax upward (quality_min).
type BoundKind string

const (
	BoundCeiling BoundKind = "ceiling"
	BoundFloor   BoundKind = "floor"
)

// DimensionBound is one auction constraint. Bounds are a pure function of
// elapsed time: the ceiling decays linearly from Initial toward Limit at
// Rate per second, the floor rises the same way. Ticks never mutate them.
type DimensionBound struct {
	Dimension string
	Kind      BoundKind
	Initial   float64
	Limit     float64 // walk-away value the bound decays toward
	Rate      float64 // absolute change per second
}

// At returns the bound value after elapsed time, clamped at Limit.
func (b DimensionBound) At(elapsed time.Duration) float64 {
	d := b.Rate * elapsed.Seconds()
	switch b.Kind {
	case BoundCeiling:
		v := b.Initial - d
		if v < b.Limit {
			return b.Limit
		}
		return v
	default:
		v := b.Initial + d
		if v > b.Limit {
			return b.Limit
		}
		return v
	}
}

// Satisfies reports whether an offered value meets the bound as it stood at
// elapsed time.
func (b DimensionBound) Satisfies(offered float64, elapsed time.Duration) bool {
	at := b.At(elapsed)
	if b.Kind == BoundCeiling {
		return offered <= at
	}
	return offered >= at
}

// Bid is a specialist's offer in an auction session. Immutable once recorded.
type Bid struct {
	ID          string
	SessionID   string
	BidderID    string
	Offered     map[string]float64
	FeeMicros   int64
	SubmittedAt time.Time
}

// NegotiationSession exists only while the owning job is Negotiating;
// exactly one active session per job.
type NegotiationSession struct {
	ID        string
	JobID     string
	Mode      NegotiationMode
	Weights   map[string]float64 // requested dimensions with weights
	Bounds    []DimensionBound   // auction only
	Tick      time.Duration      // auction decay tick
	Deadline  time.Time          // auction only
	StartedAt time.Time
	Closed    bool
	WinnerID  *string
	Bids      []Bid
}

func NewNegotiationSession(id, jobID string, mode NegotiationMode, weights map[string]float64) (*NegotiationSession, error) {
	if id == "" || jobID == "" {
		return nil, domain.ErrValidation
	}
	if mode != ModeSolver && mode != ModeAuction {
		return nil, domain.ErrValidation
	}
	if len(weights) == 0 {
		return nil, domain.ErrValidation
	}
	return &NegotiationSession{
		ID:        id,
		JobID:     jobID,
		Mode:      mode,
		Weights:   weights,
		StartedAt: time.Now(),
	}, nil
}

// BoundsAt evaluates every bound at the given instant.
func (s *NegotiationSession) BoundsAt(at time.Time) map[string]float64 {
	elapsed := at.Sub(s.StartedAt)
	out := make(map[string]float64, len(s.Bounds))
	for _, b := range s.Bounds {
		out[b.Dimension] = b.At(elapsed)
	}
	return out
}

// Qualifies checks a bid against the bounds as they stood at the bid's own
// submission timestamp. Later decay never retroactively invalidates a bid.
func (s *NegotiationSession) Qualifies(bid Bid) bool {
	elapsed := bid.SubmittedAt.Sub(s.StartedAt)
	if elapsed < 0 {
		return false
	}
	for _, b := range s.Bounds {
		offered, ok := bid.Offered[b.Dimension]
		if !ok {
			return false
		}
		if !b.Satisfies(offered, elapsed) {
			return false
		}
	}
	return true
}

// CompositeScore is the weighted sum used for solver matching and for
// tie-breaking simultaneous qualifying auction bids. For the price dimension
// a lower offer scores higher, so it enters the sum inverted against the
// job's ceiling.
func (s *NegotiationSession) CompositeScore(offered map[string]float64) float64 {
	var score float64
	for dim, w := range s.Weights {
		v, ok := offered[dim]
		if !ok {
			continue
		}
		if dim == DimPrice {
			if ceil := s.initialCeiling(dim); ceil > 0 {
				v = (ceil - v) / ceil
			} else {
				v = -v
			}
		}
		score += w * v
	}
	return score
}

func (s *NegotiationSession) initialCeiling(dim string) float64 {
	for _, b := range s.Bounds {
		if b.Dimension == dim && b.Kind == BoundCeiling {
			return b.Initial
		}
	}
	return 0
}

// TickIndex returns which decay tick a timestamp falls into.
func (s *NegotiationSession) TickIndex(at time.Time) int64 {
	if s.Tick <= 0 {
		return 0
	}
	return int64(at.Sub(s.StartedAt) / s.Tick)
}

// SelectWinner picks among qualifying bids of one tick: highest composite
// score, ties broken by earliest submission timestamp.
func (s *NegotiationSession) SelectWinner(bids []Bid) *Bid {
	qualified := make([]Bid, 0, len(bids))
	for _, b := range bids {
		if s.Qualifies(b) {
			qualified = append(qualified, b)
		}
	}
	if len(qualified) == 0 {
		return nil
	}
	sort.SliceStable(qualified, func(i, j int) bool {
		si, sj := s.CompositeScore(qualified[i].Offered), s.CompositeScore(qualified[j].Offered)
		if si != sj {
			return si > sj
		}
		return qualified[i].SubmittedAt.Before(qualified[j].SubmittedAt)
	})
	w := qualified[0]
	return &w
}

// Specialist is a directory entry: capability vector plus the registration
// sequence used for deterministic solver tie-breaks.
type Specialist struct {
	ID              string
	RegistrationSeq int64
	Capabilities    map[string]float64
}
