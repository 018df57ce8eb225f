package intake

import (
	"context"
	"sort"

	"github.com/xela07ax/capgov/internal/audit"
	"github.com/xela07ax/capgov/internal/domain"
)

// ReviewStatus is the derived state of one queue entry.
type ReviewStatus string

const (
	ReviewPending ReviewStatus = "pending_review"
	ReviewGranted ReviewStatus = "override_granted"
	ReviewDenied  ReviewStatus = "override_denied"
)

// ReviewItem is one entry of the derived review queue.
type ReviewItem struct {
	IntakeID     string                `json:"intake_id"`
	ActorID      string                `json:"actor_id"`
	OwnerUID     string                `json:"owner_uid,omitempty"`
	CapabilityID string                `json:"capability_id,omitempty"`
	Category     domain.IntakeCategory `json:"category"`
	ReasonCode   string                `json:"reason_code"`
	Summary      string                `json:"summary,omitempty"`
	Status       ReviewStatus          `json:"status"`
	DecidedBy    string                `json:"decided_by,omitempty"`
	LastSeq      int64                 `json:"last_seq"`
}

// BuildQueue materializes the review queue from intake events: latest state
// per intakeId. Pure function over the event slice (ascending seq) so the
// audit log stays the single source of truth — there is no second table.
func BuildQueue(events []audit.Event) []ReviewItem {
	byID := make(map[string]*ReviewItem)

	for _, e := range events {
		switch e.Action {
		case audit.ActionIntakeClassified, audit.ActionIntakeRouted:
			item, ok := byID[e.Target]
			if !ok {
				item = &ReviewItem{IntakeID: e.Target, Status: ReviewPending}
				byID[e.Target] = item
			}
			item.ActorID = e.ActorID
			item.OwnerUID = e.Metadata["owner_uid"]
			if cid := e.Metadata["capability_id"]; cid != "" {
				item.CapabilityID = cid
			}
			item.Category = domain.IntakeCategory(e.Metadata["category"])
			item.ReasonCode = e.Metadata["reason_code"]
			if s := e.Metadata["summary"]; s != "" {
				item.Summary = s
			}
			item.LastSeq = e.Seq
		case audit.ActionIntakeOverride:
			item, ok := byID[e.Target]
			if !ok {
				// Override for an intake classified before the query
				// horizon; still show it.
				item = &ReviewItem{IntakeID: e.Target}
				byID[e.Target] = item
			}
			if e.Metadata["decision"] == string(domain.OverrideGranted) {
				item.Status = ReviewGranted
			} else {
				item.Status = ReviewDenied
			}
			item.DecidedBy = e.ActorID
			item.LastSeq = e.Seq
		}
	}

	items := make([]ReviewItem, 0, len(byID))
	for _, item := range byID {
		items = append(items, *item)
	}
	// Newest activity first.
	sort.Slice(items, func(i, j int) bool { return items[i].LastSeq > items[j].LastSeq })
	return items
}

// Queue loads intake events from the store and projects them. It pages
// through the whole log by seq: a pending item must stay findable by its
// intakeId for as long as the intent is blocked, however much later audit
// traffic there is.
func Queue(ctx context.Context, store audit.EventStore) ([]ReviewItem, error) {
	const pageSize = 500

	var events []audit.Event
	cursor := int64(1)
	for {
		page, err := store.Query(ctx, audit.Filter{
			ActionPrefix: "intake.",
			MinSeq:       cursor,
			Limit:        pageSize,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
		if len(page) < pageSize {
			break
		}
		cursor = page[len(page)-1].Seq + 1
	}
	return BuildQueue(events), nil
}
