package store

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/lspvic/yawxt/internal/message"
	"github.com/lspvic/yawxt/internal/wechat"
)

// HooksConfig configures the persistence decoration of a handler set.
type HooksConfig struct {
	// Base is the application handler set being decorated.
	Base message.Handlers
	// Store receives every message, reply, location, and user profile.
	Store *Store
	// Client fetches user profiles; nil disables profile persistence.
	Client *wechat.Client
	// UserRefresh is how long a stored profile stays fresh; zero re-fetches
	// on every message. Subscribe and unsubscribe events always re-fetch,
	// since they change the profile by definition.
	UserRefresh time.Duration
	Logger      *slog.Logger
}

// Hooks decorates a handler set so every inbound message, reply, reported
// location, and sender profile is written to the store before and after the
// application hooks run. The wrapped hooks keep the base set's behavior;
// store or API failures abort the dispatch.
func Hooks(cfg HooksConfig) message.Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := cfg.Base

	baseBefore := cfg.Base.Before
	h.Before = func(ctx *message.Context) error {
		if err := saveUserInfo(cfg, ctx, logger); err != nil {
			return err
		}
		if err := cfg.Store.SaveMessage(ctx.Context(), ctx.Msg); err != nil {
			return fmt.Errorf("save inbound message: %w", err)
		}
		if baseBefore != nil {
			return baseBefore(ctx)
		}
		return nil
	}

	baseLocation := cfg.Base.EventLocation
	h.EventLocation = func(ctx *message.Context, loc message.Location) error {
		if err := cfg.Store.SaveLocation(ctx.Context(), loc); err != nil {
			return fmt.Errorf("save location: %w", err)
		}
		logger.Debug("location stored", "openid", loc.OpenID)
		if baseLocation != nil {
			return baseLocation(ctx, loc)
		}
		return nil
	}

	baseFinish := cfg.Base.Finish
	h.Finish = func(ctx *message.Context) error {
		if ctx.ReplyMessage != nil {
			if err := cfg.Store.SaveMessage(ctx.Context(), ctx.ReplyMessage); err != nil {
				return fmt.Errorf("save reply message: %w", err)
			}
		}
		if baseFinish != nil {
			return baseFinish(ctx)
		}
		return nil
	}

	return h
}

// saveUserInfo keeps the sender's stored profile fresh: fetch from the API
// when the user is unknown or the stored profile is older than the refresh
// window.
func saveUserInfo(cfg HooksConfig, ctx *message.Context, logger *slog.Logger) error {
	if cfg.Client == nil {
		return nil
	}

	stored, updatedAt, err := cfg.Store.GetUser(ctx.Context(), ctx.OpenID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", ctx.OpenID, err)
	}

	refresh := cfg.UserRefresh
	if key := ctx.Msg.DispatchKey(); key == "subscribe" || key == "unsubscribe" {
		refresh = 0
	}

	fresh := stored != nil && refresh > 0 && time.Since(updatedAt) < refresh
	if fresh {
		return nil
	}

	fetched, err := cfg.Client.GetUser(ctx.Context(), ctx.OpenID)
	if err != nil {
		// An unsubscribed user's profile is no longer retrievable; keep the
		// stale row rather than failing the dispatch.
		if ctx.Msg.DispatchKey() == "unsubscribe" && stored != nil {
			logger.Debug("cannot refresh unsubscribed user, keeping stored profile",
				"openid", ctx.OpenID, "err", err)
			return nil
		}
		return fmt.Errorf("fetch user %s: %w", ctx.OpenID, err)
	}

	if stored != nil {
		stored.Update(fetched)
		fetched = stored
	}
	if err := cfg.Store.SaveUser(ctx.Context(), fetched); err != nil {
		return fmt.Errorf("save user %s: %w", ctx.OpenID, err)
	}
	logger.Debug("user profile stored", "openid", ctx.OpenID)
	return nil
}
