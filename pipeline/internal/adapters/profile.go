package adapters

import (
	"context"
	"fmt"
	"strconv"

	"storefront-pipeline/pipeline/internal/jobs"
	"storefront-pipeline/shared/cachex"
)

// Profile keeps the user's last-seen summary. Writes are ordered by event timestamp, so a replay
// or a late retry never overwrites newer activity.
type Profile struct {
	Store ProfileStore
}

func (p Profile) Execute(ctx context.Context, job jobs.Job) error {
	var d jobs.ProfileData
	if err := job.Bind(&d); err != nil {
		return err
	}
	if d.UserID == "" {
		return fmt.Errorf("profile %s: missing userId", job.ID)
	}
	fields := map[string]string{
		"lastEventId":   d.EventID,
		"lastEventType": string(d.EventType),
		"lastSeenAt":    strconv.FormatInt(d.Timestamp, 10),
	}
	if d.SessionID != "" {
		fields["lastSessionId"] = d.SessionID
	}
	if d.Path != "" {
		fields["lastPath"] = d.Path
	}
	if d.Email != "" {
		fields["email"] = d.Email
	}
	if _, err := p.Store.HSetIfNewer(ctx, cachex.ProfileKey(d.UserID), d.Timestamp, fields); err != nil {
		return fmt.Errorf("profile update: %w", err)
	}
	return nil
}
