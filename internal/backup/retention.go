package backup

import (
	"context"
	"sort"
	"strings"
	"time"

	"sqlferry/internal/logging"
)

// RetentionPolicy decides which stored artifacts to keep. Rules are
// additive: an artifact kept by any rule survives. The newest artifact is
// always kept.
type RetentionPolicy struct {
	MaxBackups  int           `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAge      time.Duration `yaml:"max_age" mapstructure:"max_age"`
	KeepDaily   int           `yaml:"keep_daily" mapstructure:"keep_daily"`
	KeepWeekly  int           `yaml:"keep_weekly" mapstructure:"keep_weekly"`
	KeepMonthly int           `yaml:"keep_monthly" mapstructure:"keep_monthly"`
}

// Enabled reports whether any rule is set
func (p RetentionPolicy) Enabled() bool {
	return p.MaxBackups > 0 || p.MaxAge > 0 || p.KeepDaily > 0 || p.KeepWeekly > 0 || p.KeepMonthly > 0
}

// RetentionResult lists what a retention pass kept and removed
type RetentionResult struct {
	Kept    []ObjectInfo
	Removed []ObjectInfo
	DryRun  bool
}

// PlanRetention splits artifacts into keep and remove sets. Sidecars are
// not artifacts; they follow their artifact.
func PlanRetention(objects []ObjectInfo, policy RetentionPolicy, now time.Time) (keep, remove []ObjectInfo) {
	var artifacts []ObjectInfo
	for _, o := range objects {
		if !strings.HasSuffix(o.Key, MetadataSuffix) {
			artifacts = append(artifacts, o)
		}
	}
	if len(artifacts) == 0 {
		return nil, nil
	}
	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].Modified.After(artifacts[j].Modified)
	})

	if !policy.Enabled() {
		return artifacts, nil
	}

	kept := map[string]bool{artifacts[0].Key: true}
	for i := 0; i < len(artifacts) && i < policy.MaxBackups; i++ {
		kept[artifacts[i].Key] = true
	}
	if policy.MaxAge > 0 {
		cutoff := now.Add(-policy.MaxAge)
		for _, a := range artifacts {
			if a.Modified.After(cutoff) {
				kept[a.Key] = true
			}
		}
	}
	keepPeriodic(artifacts, kept, policy.KeepDaily, 24*time.Hour, now)
	keepPeriodic(artifacts, kept, policy.KeepWeekly, 7*24*time.Hour, now)
	keepPeriodic(artifacts, kept, policy.KeepMonthly, 30*24*time.Hour, now)

	for _, a := range artifacts {
		if kept[a.Key] {
			keep = append(keep, a)
		} else {
			remove = append(remove, a)
		}
	}
	return keep, remove
}

// keepPeriodic keeps the newest artifact of each of the count most recent
// periods. artifacts must be sorted newest first.
func keepPeriodic(artifacts []ObjectInfo, kept map[string]bool, count int, period time.Duration, now time.Time) {
	if count <= 0 {
		return
	}
	seen := map[int64]bool{}
	for _, a := range artifacts {
		bucket := int64(now.Sub(a.Modified) / period)
		if seen[bucket] {
			continue
		}
		if len(seen) >= count {
			return
		}
		seen[bucket] = true
		kept[a.Key] = true
	}
}

// ApplyRetention deletes the artifacts under prefix that policy does not
// keep, together with their sidecars. Sidecar deletion failures are logged.
func ApplyRetention(ctx context.Context, store Store, prefix string, policy RetentionPolicy, dryRun bool, logger *logging.Logger) (*RetentionResult, error) {
	logger = logging.OrNop(logger)
	objects, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	sidecars := map[string]bool{}
	for _, o := range objects {
		if strings.HasSuffix(o.Key, MetadataSuffix) {
			sidecars[o.Key] = true
		}
	}

	keep, remove := PlanRetention(objects, policy, time.Now())
	result := &RetentionResult{Kept: keep, DryRun: dryRun}
	for _, o := range remove {
		entry := logger.WithFields(map[string]interface{}{
			"key":      o.Key,
			"modified": o.Modified.Format(time.RFC3339),
			"dry_run":  dryRun,
		})
		if dryRun {
			entry.Info("Would remove backup")
			result.Removed = append(result.Removed, o)
			continue
		}
		if err := store.Delete(ctx, o.Key); err != nil {
			return result, err
		}
		if sidecars[MetadataPath(o.Key)] {
			if err := store.Delete(ctx, MetadataPath(o.Key)); err != nil {
				entry.WithError(err).Warn("Failed to remove metadata sidecar")
			}
		}
		entry.Info("Removed backup")
		result.Removed = append(result.Removed, o)
	}
	return result, nil
}
