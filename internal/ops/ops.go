// Package ops implements the catalogue operations shared by the CLI, MCP server,
// panel channel and web API.
package ops

import (
	"context"
	"strings"
	"time"

	"github.com/hpungsan/rulesync/internal/catalogue"
	"github.com/hpungsan/rulesync/internal/errors"
	"github.com/hpungsan/rulesync/internal/rule"
)

// Run log limits for Status.
const (
	DefaultRunLimit = 10
	MaxRunLimit     = 100
)

// Catalogue is the subset of *catalogue.Coordinator the operations need.
type Catalogue interface {
	LoadRules(ctx context.Context) (rule.State, error)
	SyncNow(ctx context.Context) (catalogue.SyncResult, error)
	Status(ctx context.Context, runLimit int) (catalogue.Status, error)
}

// StateMeta is the freshness metadata attached to every catalogue read.
type StateMeta struct {
	LastSync  *int64      `json:"last_sync"`
	NeedsSync bool        `json:"needs_sync"`
	IsOffline bool        `json:"is_offline"`
	Origin    rule.Origin `json:"origin"`
}

func metaOf(st rule.State) StateMeta {
	return StateMeta{
		LastSync:  rule.UnixMillis(st.LastSync),
		NeedsSync: st.NeedsSync,
		IsOffline: st.IsOffline,
		Origin:    st.Origin,
	}
}

// load wraps LoadRules so a cancelled request surfaces as CANCELLED.
func load(ctx context.Context, cat Catalogue, op string) (rule.State, error) {
	st, err := cat.LoadRules(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return rule.State{}, errors.NewCancelled(op)
		}
		return rule.State{}, err
	}
	return st, nil
}

func requireSlug(slug string) (string, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return "", errors.NewInvalidRequest("slug is required")
	}
	return slug, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
