package memsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kurame123/Yuki-bot/pkg/domain/model"
	"github.com/kurame123/Yuki-bot/pkg/domain/types"
	"github.com/kurame123/Yuki-bot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gollem"
)

// importanceDecay is applied to every surviving record per GC pass, and
// decayFloor is where decay stops so old but referenced memories never
// become eviction fodder outright.
const (
	importanceDecay = 0.95
	decayFloor      = 0.1
)

// GCReport summarizes one garbage collection pass over a partition
type GCReport struct {
	Scope      types.Scope `json:"scope"`
	Expired    int         `json:"expired"`
	Duplicates int         `json:"duplicates"`
	Decayed    int         `json:"decayed"`
	Summarized int         `json:"summarized"`
}

// GarbageCollect runs retention, near-duplicate removal, importance decay
// and, when the partition is still oversized, LLM summarization of the
// oldest records into one condensed memory. The pass checks for
// cancellation between phases so a shutdown never waits on a full sweep.
// The partition lock is held only for store mutations; summarizer and
// embedding round-trips run unlocked so inserts are never stalled on a
// collaborator.
func (s *Service) GarbageCollect(ctx context.Context, scope types.Scope) (*GCReport, error) {
	report := &GCReport{Scope: scope}
	logger := logging.From(ctx)

	count, err := s.sweep(ctx, scope, report)
	if err != nil {
		return report, err
	}

	// Summarization failure is soft; the originals stay and the next
	// pass retries.
	if count > s.cfg.SummarizeThreshold {
		n, err := s.summarizeOldest(ctx, scope)
		if err != nil {
			logger.Warn("memory summarization skipped", "scope", scope.Key(), "error", err)
		} else {
			report.Summarized = n
		}
	}

	logger.Info("memory GC finished",
		"scope", scope.Key(),
		"expired", report.Expired,
		"duplicates", report.Duplicates,
		"summarized", report.Summarized)
	return report, nil
}

// sweep is the in-lock portion of a GC pass: retention, duplicate removal
// and decay. It returns the partition size afterwards so the caller can
// decide whether summarization is due.
func (s *Service) sweep(ctx context.Context, scope types.Scope, report *GCReport) (int, error) {
	lock := s.partitionLock(scope)
	lock.Lock()
	defer lock.Unlock()

	records, err := s.repo.List(ctx, scope, 0, 0)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list memories for GC")
	}
	gcSort(records)

	// Retention: drop records past the horizon
	horizon := time.Now().AddDate(0, 0, -s.cfg.RetentionDays)
	kept := records[:0]
	for _, rec := range records {
		if rec.CreatedAt.Before(horizon) {
			if err := s.repo.Delete(ctx, scope, rec.ID); err != nil {
				return 0, goerr.Wrap(err, "failed to delete expired memory", goerr.V("memoryID", rec.ID))
			}
			report.Expired++
			continue
		}
		kept = append(kept, rec)
	}
	records = kept

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Near-duplicates: pairwise over the partition, keep the newer record.
	// Records are oldest first, so marking the earlier index keeps newest.
	dropped := make(map[model.MemoryID]bool)
	for i := 0; i < len(records); i++ {
		if dropped[records[i].ID] {
			continue
		}
		for j := i + 1; j < len(records); j++ {
			if dropped[records[j].ID] {
				continue
			}
			if cosineSimilarity(records[i].Embedding, records[j].Embedding) >= s.cfg.DuplicateSimilarity {
				dropped[records[i].ID] = true
				break
			}
		}
	}
	for id := range dropped {
		if err := s.repo.Delete(ctx, scope, id); err != nil {
			return 0, goerr.Wrap(err, "failed to delete duplicate memory", goerr.V("memoryID", id))
		}
		report.Duplicates++
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Decay surviving importance toward the floor
	for _, rec := range records {
		if dropped[rec.ID] {
			continue
		}
		decayed := rec.Importance * importanceDecay
		if decayed < decayFloor {
			decayed = decayFloor
		}
		if decayed == rec.Importance {
			continue
		}
		if err := s.repo.SetImportance(ctx, scope, rec.ID, decayed); err != nil {
			return 0, goerr.Wrap(err, "failed to decay importance", goerr.V("memoryID", rec.ID))
		}
		report.Decayed++
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	count, err := s.repo.Count(ctx, scope)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count memories after GC")
	}
	return count, nil
}

const summarySystemPrompt = `You condense old conversation memories into a single short summary.
Keep concrete facts about the user (names, preferences, events, plans) and drop small talk.
Write the summary in the same language as the memories. Output plain text only.`

// summarizeOldest replaces the oldest configured fraction of the partition
// with one condensed record holding their combined facts. The batch is
// snapshotted under the lock, the summarizer and embedding calls run
// unlocked, then the swap re-validates the batch before touching the store.
func (s *Service) summarizeOldest(ctx context.Context, scope types.Scope) (int, error) {
	oldest, err := s.snapshotOldest(ctx, scope)
	if err != nil || len(oldest) == 0 {
		return 0, err
	}

	var sb strings.Builder
	for _, rec := range oldest {
		fmt.Fprintf(&sb, "- [%s] %s\n", rec.CreatedAt.Format("2006-01-02"), rec.Content)
	}

	llmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	session, err := s.llm.NewSession(llmCtx, gollem.WithSessionSystemPrompt(summarySystemPrompt))
	if err != nil {
		return 0, goerr.Wrap(types.ErrCollaboratorUnavailable, "failed to create summarizer session",
			goerr.V("cause", err.Error()))
	}
	resp, err := session.GenerateContent(llmCtx, gollem.Text(sb.String()))
	if err != nil {
		return 0, goerr.Wrap(types.ErrCollaboratorUnavailable, "summarizer failed",
			goerr.V("cause", err.Error()))
	}
	if len(resp.Texts) == 0 || strings.TrimSpace(resp.Texts[0]) == "" {
		return 0, goerr.New("summarizer returned empty text")
	}
	summary := strings.TrimSpace(resp.Texts[0])

	embedding, err := s.Embed(ctx, summary)
	if err != nil {
		return 0, err
	}

	return s.replaceWithSummary(ctx, scope, oldest, summary, embedding)
}

// snapshotOldest picks the summarization batch under the partition lock
func (s *Service) snapshotOldest(ctx context.Context, scope types.Scope) ([]*model.MemoryRecord, error) {
	lock := s.partitionLock(scope)
	lock.Lock()
	defer lock.Unlock()

	records, err := s.repo.List(ctx, scope, 0, 0)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories for summarization")
	}
	gcSort(records)

	batch := int(float64(len(records)) * s.cfg.SummarizeRatio)
	if batch < 2 {
		return nil, nil
	}
	return records[:batch], nil
}

// replaceWithSummary swaps the batch for its condensed record. Any source
// that vanished or was rewritten while the summarizer ran aborts the swap;
// the next pass starts over from current state.
func (s *Service) replaceWithSummary(ctx context.Context, scope types.Scope, oldest []*model.MemoryRecord, summary string, embedding []float32) (int, error) {
	lock := s.partitionLock(scope)
	lock.Lock()
	defer lock.Unlock()

	for _, old := range oldest {
		current, err := s.repo.Get(ctx, scope, old.ID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return 0, goerr.New("summarized batch changed mid-pass", goerr.V("memoryID", old.ID))
			}
			return 0, goerr.Wrap(err, "failed to re-read summarized memory", goerr.V("memoryID", old.ID))
		}
		if current.Content != old.Content {
			return 0, goerr.New("summarized batch changed mid-pass", goerr.V("memoryID", old.ID))
		}
	}

	// Write the condensed record before removing its sources
	rec := &model.MemoryRecord{
		Scope:      scope,
		UserID:     oldest[0].UserID,
		Content:    summary,
		Embedding:  embedding,
		Importance: 0.8,
	}
	if _, err := s.repo.Put(ctx, rec); err != nil {
		return 0, goerr.Wrap(err, "failed to store condensed memory")
	}

	for _, old := range oldest {
		if err := s.repo.Delete(ctx, scope, old.ID); err != nil {
			return 0, goerr.Wrap(err, "failed to delete summarized memory", goerr.V("memoryID", old.ID))
		}
	}
	return len(oldest), nil
}
