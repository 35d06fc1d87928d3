// Package quota runs the weekly throughput audit of preparers and
// fulfillers.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iurnickita/sugarrush/internal/directory"
	"github.com/iurnickita/sugarrush/internal/metrics"
	"github.com/iurnickita/sugarrush/internal/model"
	"github.com/iurnickita/sugarrush/internal/notify"
	"github.com/iurnickita/sugarrush/internal/quota/config"
	"github.com/iurnickita/sugarrush/internal/scheduler"
	"github.com/iurnickita/sugarrush/internal/store"
)

// RoleReport is the outcome of one role in one run.
type RoleReport struct {
	Role         model.Role
	Volume       int
	Holders      int
	Target       int
	SeniorTarget int
	Passed       []string
	Failed       []string
	Exempt       []string
	Revoked      []string
	MVP          string
}

type Report struct {
	At    time.Time
	Roles []RoleReport
}

type Auditor struct {
	cfg       config.Config
	store     store.Store
	directory directory.Directory
	sink      notify.Sink
	sched     scheduler.Scheduler
	zaplog    *zap.Logger

	// один прогон за раз
	mu sync.Mutex
}

func NewAuditor(cfg config.Config, store store.Store, directory directory.Directory, sink notify.Sink, sched scheduler.Scheduler, zaplog *zap.Logger) *Auditor {
	return &Auditor{
		cfg:       cfg,
		store:     store,
		directory: directory,
		sink:      sink,
		sched:     sched,
		zaplog:    zaplog.Named("quota"),
	}
}

// Start arms the weekly trigger.
func (a *Auditor) Start() scheduler.Handle {
	return a.sched.WeeklyAt(a.cfg.Day, a.cfg.Hour, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, _, err := a.RunIfDue(ctx); err != nil {
			a.zaplog.Error("quota run failed", zap.Error(err))
		}
	})
}

func (a *Auditor) markerKey() string {
	return "last_quota_run:" + a.cfg.Scope
}

// RunIfDue runs the audit unless the previous run is younger than the guard.
// The marker is written before the audit so an overlapping trigger sees it.
func (a *Auditor) RunIfDue(ctx context.Context) (Report, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.sched.Now()
	last, err := a.store.MarkerGet(ctx, a.markerKey())
	switch {
	case err == nil && now.Sub(last) < a.cfg.Guard:
		metrics.QuotaRunsTotal.WithLabelValues("skipped").Inc()
		a.zaplog.Info("quota run skipped",
			zap.String("scope", a.cfg.Scope),
			zap.Time("last_run", last))
		return Report{}, false, nil
	case err != nil && !errors.Is(err, store.ErrNoRows):
		metrics.QuotaRunsTotal.WithLabelValues("failed").Inc()
		return Report{}, false, fmt.Errorf("read last quota run: %w", err)
	}
	if err = a.store.MarkerSet(ctx, a.markerKey(), now); err != nil {
		metrics.QuotaRunsTotal.WithLabelValues("failed").Inc()
		return Report{}, false, fmt.Errorf("record quota run: %w", err)
	}

	report, err := a.run(ctx, now)
	if err != nil {
		metrics.QuotaRunsTotal.WithLabelValues("failed").Inc()
		return report, true, err
	}
	metrics.QuotaRunsTotal.WithLabelValues("completed").Inc()
	return report, true, nil
}

// Run audits unconditionally.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.run(ctx, a.sched.Now())
}

func (a *Auditor) run(ctx context.Context, now time.Time) (Report, error) {
	report := Report{At: now}
	for _, role := range []model.Role{model.RolePreparer, model.RoleFulfiller} {
		rr, err := a.auditRole(ctx, role)
		if err != nil {
			return report, fmt.Errorf("audit %s: %w", role, err)
		}
		report.Roles = append(report.Roles, rr)
	}

	a.zaplog.Info("quota run completed", zap.String("scope", a.cfg.Scope))
	target := notify.Target{GuildID: a.cfg.SupportGuildID, ChannelID: a.cfg.ChannelID}
	if err := a.sink.Post(ctx, target, summary(report)); err != nil {
		metrics.NotifyFailuresTotal.WithLabelValues("quota_summary").Inc()
		a.zaplog.Warn("quota summary failed", zap.Error(err))
	}
	return report, nil
}

type holder struct {
	id     string
	roles  []model.Role
	senior bool
	exempt bool
	count  int
}

func (a *Auditor) holders(ctx context.Context, role model.Role) ([]holder, error) {
	seen := make(map[string]int)
	var list []holder
	for _, r := range []model.Role{role, role.Senior()} {
		ids, err := a.directory.ListRoleHolders(ctx, r)
		if err != nil {
			return nil, fmt.Errorf("list %s holders: %w", r, err)
		}
		for _, id := range ids {
			if i, ok := seen[id]; ok {
				// держатель обеих ролей проверяется как старший
				list[i].roles = append(list[i].roles, r)
				list[i].senior = true
				continue
			}
			seen[id] = len(list)
			list = append(list, holder{id: id, roles: []model.Role{r}, senior: r != role})
		}
	}

	for i := range list {
		exempt, err := a.directory.IsExempt(ctx, list[i].id)
		if err != nil {
			return nil, fmt.Errorf("check exemption of %s: %w", list[i].id, err)
		}
		acct, err := store.AccountOrNew(ctx, a.store, list[i].id)
		if err != nil {
			return nil, err
		}
		list[i].exempt = exempt
		list[i].count = weekly(acct, role)
	}
	return list, nil
}

func (a *Auditor) auditRole(ctx context.Context, role model.Role) (RoleReport, error) {
	list, err := a.holders(ctx, role)
	if err != nil {
		return RoleReport{}, err
	}

	rr := RoleReport{Role: role}
	for _, h := range list {
		if h.exempt {
			continue
		}
		rr.Volume += h.count
		rr.Holders++
	}
	rr.Target, rr.SeniorTarget = Targets(rr.Volume, rr.Holders, a.cfg.Ceiling)
	rr.MVP = a.mvp(list)

	for _, h := range list {
		target := rr.Target
		if h.senior {
			target = rr.SeniorTarget
		}
		var revoke bool
		_, err := a.store.AccountUpdate(ctx, h.id, func(acct *model.Account) error {
			failures := failureCounter(acct, role)
			switch {
			case h.exempt:
			case h.count >= target:
				*failures = 0
			default:
				*failures++
				revoke = *failures >= a.cfg.MaxFailures
			}
			if h.id == rr.MVP {
				acct.Balance += a.cfg.MVPBonus
			}
			resetWeekly(acct, role)
			return nil
		})
		if err != nil {
			return rr, fmt.Errorf("update %s: %w", h.id, err)
		}

		switch {
		case h.exempt:
			rr.Exempt = append(rr.Exempt, h.id)
		case h.count >= target:
			rr.Passed = append(rr.Passed, h.id)
		default:
			rr.Failed = append(rr.Failed, h.id)
		}
		if !revoke {
			continue
		}
		if err = a.revoke(ctx, h, role); err != nil {
			a.zaplog.Error("role revoke failed",
				zap.String("actor", h.id),
				zap.String("role", string(role)),
				zap.Error(err))
			continue
		}
		metrics.QuotaRevocationsTotal.WithLabelValues(string(role)).Inc()
		rr.Revoked = append(rr.Revoked, h.id)
		a.zaplog.Info("role revoked for missed quota",
			zap.String("actor", h.id),
			zap.String("role", string(role)))
	}
	return rr, nil
}

// revoke takes away every role granting the audited capability and only
// then clears the failure streak. A failed revoke keeps the streak, so the
// next shortfall retries it.
func (a *Auditor) revoke(ctx context.Context, h holder, role model.Role) error {
	for _, r := range h.roles {
		if err := a.directory.RevokeRole(ctx, h.id, r); err != nil {
			return fmt.Errorf("revoke %s: %w", r, err)
		}
	}
	_, err := a.store.AccountUpdate(ctx, h.id, func(acct *model.Account) error {
		*failureCounter(acct, role) = 0
		return nil
	})
	return err
}

// mvp picks the top weekly performer. A tie is settled by enumeration order
// or awards nobody, depending on the configured rule.
func (a *Auditor) mvp(list []holder) string {
	if a.cfg.MVPBonus <= 0 {
		return ""
	}
	best, bestCount, tied := "", 0, false
	for _, h := range list {
		switch {
		case h.count > bestCount:
			best, bestCount, tied = h.id, h.count, false
		case h.count == bestCount && bestCount > 0:
			tied = true
		}
	}
	if tied && a.cfg.MVPTies == config.TiesSkip {
		return ""
	}
	return best
}

// Targets derives the weekly quota from the role's total volume. The senior
// tier owes half, rounded up.
func Targets(volume, holders, ceiling int) (normal, senior int) {
	if volume <= 0 {
		return 0, 0
	}
	if holders < 1 {
		holders = 1
	}
	normal = (volume + holders - 1) / holders
	if ceiling > 0 && normal > ceiling {
		normal = ceiling
	}
	normal = max(normal, 1)
	senior = max((normal+1)/2, 1)
	return normal, senior
}

func weekly(acct model.Account, role model.Role) int {
	if role == model.RoleFulfiller {
		return acct.FulfillCountWeek
	}
	return acct.PrepCountWeek
}

func failureCounter(acct *model.Account, role model.Role) *int {
	if role == model.RoleFulfiller {
		return &acct.FulfillQuotaFailures
	}
	return &acct.PrepQuotaFailures
}

func resetWeekly(acct *model.Account, role model.Role) {
	if role == model.RoleFulfiller {
		acct.FulfillCountWeek = 0
		return
	}
	acct.PrepCountWeek = 0
}

func summary(report Report) notify.Message {
	var b strings.Builder
	for _, rr := range report.Roles {
		fmt.Fprintf(&b, "**%s**: volume %d, target %d (senior %d)\n", rr.Role, rr.Volume, rr.Target, rr.SeniorTarget)
		fmt.Fprintf(&b, "passed %d, failed %d, exempt %d\n", len(rr.Passed), len(rr.Failed), len(rr.Exempt))
		if len(rr.Revoked) > 0 {
			fmt.Fprintf(&b, "revoked: %s\n", mentions(rr.Revoked))
		}
		if rr.MVP != "" {
			fmt.Fprintf(&b, "MVP: <@%s>\n", rr.MVP)
		}
	}
	return notify.Message{
		Kind:  "quota_summary",
		Title: "Weekly quota " + report.At.UTC().Format("2006-01-02"),
		Body:  strings.TrimRight(b.String(), "\n"),
	}
}

func mentions(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = "<@" + id + ">"
	}
	return strings.Join(out, ", ")
}
