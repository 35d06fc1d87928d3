// Package moderation holds the manual sanctions: bans on accounts and the
// blacklist of origin servers.
package moderation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/directory"
	"github.com/iurnickita/sugarrush/internal/escalation"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

type Moderation interface {
	// Ban suspends target for days; zero days is permanent.
	Ban(ctx context.Context, actor model.Actor, target string, days int, reason string) (model.Account, error)
	Unban(ctx context.Context, actor model.Actor, target string) (model.Account, error)
	Blacklist(ctx context.Context, actor model.Actor, guildID string, reason string) error
	Unblacklist(ctx context.Context, actor model.Actor, guildID string) error
}

type moderation struct {
	store     store.Store
	directory directory.Directory
	policy    escalation.Policy
	clock     scheduler.Clock
	zaplog    *zap.Logger
}

func NewModeration(store store.Store, directory directory.Directory, policy escalation.Policy, clock scheduler.Clock, zaplog *zap.Logger) Moderation {
	moderation := moderation{
		store:     store,
		directory: directory,
		policy:    policy,
		clock:     clock,
		zaplog:    zaplog.Named("moderation"),
	}
	return &moderation
}

func (moderation *moderation) require(ctx context.Context, actor model.Actor, allowed func(model.Capabilities) bool) error {
	if actor.ID == "" || actor.ID == model.SystemActorID {
		return model.ErrPermissionDenied
	}
	caps, err := moderation.directory.ResolveCapabilities(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("resolve capabilities: %w", err)
	}
	if !allowed(caps) {
		return model.ErrPermissionDenied
	}
	return nil
}

func (moderation *moderation) Ban(ctx context.Context, actor model.Actor, target string, days int, reason string) (model.Account, error) {
	if err := moderation.require(ctx, actor, model.Capabilities.CanManage); err != nil {
		return model.Account{}, err
	}
	target = strings.TrimSpace(target)
	if target == "" || target == model.SystemActorID || days < 0 {
		return model.Account{}, model.ErrInvalidInput
	}

	now := moderation.clock.Now()
	acct, err := moderation.store.AccountUpdate(ctx, target, func(acct *model.Account) error {
		*acct = escalation.Ban(*acct, now, time.Duration(days)*24*time.Hour)
		return nil
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("ban %s: %w", target, err)
	}

	moderation.zaplog.Info("account banned",
		zap.String("actor", actor.ID),
		zap.String("target", target),
		zap.Int("days", days),
		zap.String("reason", reason),
		zap.String("kind", string(acct.Suspension.Kind)))
	return acct, nil
}

func (moderation *moderation) Unban(ctx context.Context, actor model.Actor, target string) (model.Account, error) {
	if err := moderation.require(ctx, actor, model.Capabilities.CanManage); err != nil {
		return model.Account{}, err
	}
	if strings.TrimSpace(target) == "" {
		return model.Account{}, model.ErrInvalidInput
	}

	acct, err := moderation.store.AccountUpdate(ctx, target, func(acct *model.Account) error {
		*acct = moderation.policy.Unban(*acct)
		return nil
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("unban %s: %w", target, err)
	}

	moderation.zaplog.Info("account unbanned",
		zap.String("actor", actor.ID),
		zap.String("target", target),
		zap.Int("strikes", acct.StrikeCount))
	return acct, nil
}

func (moderation *moderation) Blacklist(ctx context.Context, actor model.Actor, guildID string, reason string) error {
	if err := moderation.require(ctx, actor, isOwner); err != nil {
		return err
	}
	if strings.TrimSpace(guildID) == "" {
		return model.ErrInvalidInput
	}
	if err := moderation.store.BlacklistAdd(ctx, guildID, reason); err != nil {
		return fmt.Errorf("blacklist %s: %w", guildID, err)
	}
	moderation.zaplog.Info("origin blacklisted",
		zap.String("actor", actor.ID),
		zap.String("guild_id", guildID),
		zap.String("reason", reason))
	return nil
}

func (moderation *moderation) Unblacklist(ctx context.Context, actor model.Actor, guildID string) error {
	if err := moderation.require(ctx, actor, isOwner); err != nil {
		return err
	}
	if err := moderation.store.BlacklistRemove(ctx, guildID); err != nil {
		return fmt.Errorf("unblacklist %s: %w", guildID, err)
	}
	moderation.zaplog.Info("origin unblacklisted",
		zap.String("actor", actor.ID),
		zap.String("guild_id", guildID))
	return nil
}

func isOwner(caps model.Capabilities) bool { return caps.Owner }
