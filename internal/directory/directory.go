// Package directory maps expertise domains to the currently eligible mentor
// participants. The mapping is refreshed as one atomic snapshot on an
// explicit Sync; reads during a single decision always observe one
// consistent snapshot.
package directory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"mentorbot/internal/models"
	"mentorbot/internal/repository"
)

type snapshot struct {
	byDomain map[string][]models.Participant
	domains  []string
}

// Directory resolves a domain to its active mentors.
type Directory struct {
	participants repository.ParticipantRepository
	// configured maps domain -> mentor Telegram IDs, the external source of
	// truth the directory syncs from.
	configured map[string][]int64
	snap       atomic.Pointer[snapshot]
	logger     *zap.Logger
}

func New(participants repository.ParticipantRepository, configured map[string][]int64, logger *zap.Logger) *Directory {
	d := &Directory{participants: participants, configured: configured, logger: logger}
	d.snap.Store(&snapshot{byDomain: map[string][]models.Participant{}})
	return d
}

// Sync pushes the configured mentor mapping into storage (marking mentor
// flags and expertise domains on known participants), then rebuilds the
// snapshot from the active mentors actually present in storage and swaps it
// atomically.
func (d *Directory) Sync(ctx context.Context) error {
	domainsByID := make(map[int64][]string)
	for domain, ids := range d.configured {
		for _, id := range ids {
			domainsByID[id] = append(domainsByID[id], domain)
		}
	}

	for telegramID, domains := range domainsByID {
		sort.Strings(domains)
		p, err := d.participants.GetByTelegramID(ctx, telegramID)
		if err != nil {
			// Mentors who have not sent a message yet are picked up on the
			// next sync after their first appearance.
			d.logger.Debug("Configured mentor not yet seen", zap.Int64("telegram_id", telegramID))
			continue
		}
		if err := d.participants.SetElevation(ctx, telegramID, p.IsAdmin, true, domains); err != nil {
			return fmt.Errorf("failed to mark mentor %d: %w", telegramID, err)
		}
	}

	mentors, err := d.participants.ActiveMentors(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active mentors: %w", err)
	}

	byDomain := make(map[string][]models.Participant)
	for _, m := range mentors {
		for _, domain := range m.ExpertiseDomains {
			byDomain[domain] = append(byDomain[domain], m)
		}
	}

	domains := make([]string, 0, len(byDomain))
	for domain := range byDomain {
		domains = append(domains, domain)
	}
	sort.Strings(domains)

	d.snap.Store(&snapshot{byDomain: byDomain, domains: domains})
	d.logger.Info("Mentor directory synced",
		zap.Int("mentors", len(mentors)),
		zap.Strings("domains", domains))
	return nil
}

// Resolve returns the active mentors for a domain; empty if none.
func (d *Directory) Resolve(domain string) []models.Participant {
	return d.snap.Load().byDomain[domain]
}

// Domains returns the domains with at least one eligible mentor, sorted.
func (d *Directory) Domains() []string {
	return d.snap.Load().domains
}
