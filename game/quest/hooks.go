package quest

import (
	"context"

	"github.com/kasuganosora/questengine/plugin/hook"
)

// IgnoreUsers registers a before_activity_record hook that drops activity
// from the listed members, typically the community's bots. It runs ahead of
// hooks registered with a non-negative priority.
func IgnoreUsers(hc *hook.HookCenter, userIDs []string) {
	if hc == nil || len(userIDs) == 0 {
		return
	}
	ignored := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		ignored[id] = struct{}{}
	}
	hc.Register(hook.BeforeActivityRecord, -100, "ignore_users", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		if a, ok := data.(Activity); ok {
			if _, skip := ignored[a.UserID]; skip {
				return data, hook.ErrInterrupt
			}
		}
		return data, nil
	})
}
