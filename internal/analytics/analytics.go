package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/stefmmm/Predeactor-Cogs/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Since      time.Time
	Total      int
	ByLevel    map[string]int
	ByEvent    map[string]int
	Challenges map[string]int
	ModCases   map[string]int
}

// Count is one row of a sorted breakdown.
type Count struct {
	Key   string
	Value int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Since:      since,
		ByLevel:    make(map[string]int),
		ByEvent:    make(map[string]int),
		Challenges: make(map[string]int),
		ModCases:   make(map[string]int),
	}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}

	challenges, err := s.store.ListChallenges(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	for _, challenge := range challenges {
		outcome := challenge.Outcome
		if outcome == "" {
			outcome = "pending"
		}
		report.Challenges[outcome]++
	}

	cases, err := s.store.ListModCases(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	for _, modCase := range cases {
		report.ModCases[modCase.Action]++
	}
	return report, nil
}

// Sorted orders a breakdown by count, then key.
func Sorted(values map[string]int) []Count {
	out := make([]Count, 0, len(values))
	for key, value := range values {
		out = append(out, Count{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Key < out[j].Key
	})
	return out
}
